package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Microsoft/memsim/internal/config"
	"github.com/Microsoft/memsim/internal/datatype"
	"github.com/Microsoft/memsim/internal/memerror"
	"github.com/Microsoft/memsim/internal/process"
	"github.com/Microsoft/memsim/internal/segment"
	"github.com/Microsoft/memsim/internal/swap"
	"github.com/Microsoft/memsim/internal/vmm"
)

func newTestSession(t *testing.T, modify func(*config.Config)) (*session, *bytes.Buffer) {
	t.Helper()
	c := config.Default()
	c.RAMSize = 64 * c.PageSize
	c.SwapSize = 64 * c.PageSize
	c.SwapPath = filepath.Join(t.TempDir(), "memsim.swap")
	if modify != nil {
		modify(c)
	}
	backing, err := swap.Open(c.SwapConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backing.Close() })

	m, err := vmm.New(c, backing, func(name string) int {
		switch name {
		case segment.Text:
			return 4096
		case segment.Globals:
			return 512
		}
		return process.StackSize
	})
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	return &session{m: m, out: out}, out
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestSession_Script(t *testing.T) {
	s, out := newTestSession(t, nil)
	script := `
# the scenario from the course notes
create
allocate 1024 a int 10
set 1024 a 0 1 2 3
print 1024:a
allocate 1024 a int 1
allocate 1024 s char 5
set 1024 s 0 h "i" ' '
print 1024:s
free 1024 a
allocate 1024 b char 40
exit
create
`
	if err := s.run(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
	got := lines(out.String())
	want := []string{
		"1024",
		"70144",
		"1, 2, 3, 0, ... [10 items]",
		"",
		"70184",
		"h, i,  , \x00, ... [5 items]",
		"70144",
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	for i := range want {
		if i == 3 {
			if !strings.HasPrefix(got[i], "error: allocate pid 1024 \"a\"") {
				t.Fatalf("expected duplicate allocation error, got %q", got[i])
			}
			continue
		}
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSession_RejectedCommands(t *testing.T) {
	s, out := newTestSession(t, nil)
	script := strings.Join([]string{
		"bogus",
		"create 5",
		"allocate x a int 1",
		"allocate 1024 a int 1",
		"allocate 1024 a integer 1",
		"set 1024 a 0",
		"print nothing",
		"print 1024:a",
		"terminate 1024",
		`set 1 "unterminated`,
	}, "\n")
	if err := s.run(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
	for i, l := range lines(out.String()) {
		if !strings.HasPrefix(l, "error: ") {
			t.Fatalf("line %d: expected an error, got %q", i, l)
		}
	}
	if n := len(lines(out.String())); n != 10 {
		t.Fatalf("expected 10 errors, got %d:\n%s", n, out.String())
	}
}

func TestSession_FatalEndsSession(t *testing.T) {
	s, out := newTestSession(t, func(c *config.Config) {
		c.RAMSize = 20 * c.PageSize
		c.SwapSize = 20 * c.PageSize
	})
	err := s.run(context.Background(), strings.NewReader("create\ncreate\ncreate\ncreate\n"))
	if !errors.Is(err, memerror.ErrMemoryExhausted) {
		t.Fatalf("expected error=%s, got %v", memerror.ErrMemoryExhausted, err)
	}
	got := lines(out.String())
	if len(got) != 3 || !strings.HasPrefix(got[2], "fatal: ") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestSession_PrintTables(t *testing.T) {
	s, out := newTestSession(t, nil)
	if err := s.run(context.Background(), strings.NewReader("create\nallocate 1024 v short 3\nprint processes\n")); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"1024",
		"70144",
		"PID   TEXT  GLOBALS  STACK  VARIABLES  FRAMES  FREE",
		"1024  4096  512      65536  1          18      2027002",
	}
	if diff := cmp.Diff(want, lines(out.String())); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	out.Reset()
	if err := s.exec(context.Background(), "print mmu"); err != nil {
		t.Fatal(err)
	}
	got := lines(out.String())
	if len(got) != 6 || !strings.Contains(got[4], "v") || !strings.Contains(got[5], segment.FreeSpaceName) {
		t.Fatalf("unexpected segment table:\n%s", out.String())
	}

	out.Reset()
	if err := s.exec(context.Background(), "print page"); err != nil {
		t.Fatal(err)
	}
	if n := len(lines(out.String())); n != 19 {
		t.Fatalf("expected header and 18 pages, got %d lines:\n%s", n, out.String())
	}
}

func TestFormatValues(t *testing.T) {
	enc := func(vals ...string) []byte {
		b, err := datatype.Encode(datatype.Int, vals)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}
	for _, tc := range []struct {
		vals []string
		want string
	}{
		{[]string{"1"}, "1"},
		{[]string{"1", "2", "3", "4"}, "1, 2, 3, 4"},
		{[]string{"1", "2", "3", "4", "5"}, "1, 2, 3, 4, ... [5 items]"},
	} {
		got := formatValues(datatype.Decode(datatype.Int, enc(tc.vals...)), previewValues)
		if got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestPrintSegments_Swapped(t *testing.T) {
	var out bytes.Buffer
	err := printSegments(&out, []*segment.Segment{
		{PID: 1024, Name: "a", Type: datatype.Int, Size: 8, VirtualAddress: 0x11200, PhysicalAddress: 0x1000},
		{PID: 1024, Name: "b", Type: datatype.Int, Size: 8, VirtualAddress: 0x11208, PhysicalAddress: 0x15008, Swapped: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(out.String())
	if len(got) != 3 || !strings.Contains(got[1], " 0x00001000 ") || !strings.Contains(got[2], " swap:0x00015008 ") {
		t.Fatalf("unexpected segment table:\n%s", out.String())
	}
}
