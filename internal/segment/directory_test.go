package segment

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"

	"github.com/Microsoft/memsim/internal/datatype"
)

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	for _, s := range []*Segment{
		{PID: 1025, Name: "b", Type: datatype.Int, Size: 4, VirtualAddress: 0},
		{PID: 1024, Name: "y", Type: datatype.Char, Size: 1, VirtualAddress: 200},
		{PID: 1024, Name: "x", Type: datatype.Char, Size: 1, VirtualAddress: 100},
	} {
		if err := d.Add(s); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	if err := d.Add(&Segment{PID: 1024, Name: "x"}); !errdefs.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}

	names := func(ss []*Segment) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.Name)
		}
		return out
	}
	if diff := cmp.Diff([]string{"x", "y"}, names(d.ForPID(1024))); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "y", "b"}, names(d.All())); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	if _, err := d.Remove(1024, "x"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := d.Get(1024, "x"); !errdefs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	removed := d.RemoveAll(1024)
	if len(removed) != 1 || d.Len() != 1 {
		t.Fatalf("expected 1 removed and 1 left, got %d and %d", len(removed), d.Len())
	}
}
