package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %s", err)
	}
	if c.TotalSize() != 512<<20 {
		t.Fatalf("expected combined capacity of 512 MiB, got %d", c.TotalSize())
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memsim.toml")
	data := `
page_size = 8192
swap_backend = "bolt"
swap_path = "/tmp/swap.db"
seed = 99
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.PageSize = 8192
	want.SwapBackend = "bolt"
	want.SwapPath = "/tmp/swap.db"
	want.Seed = 99
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	sc := c.SwapConfig()
	if sc.Size != int64(c.TotalSize()) || sc.PageSize != 8192 || sc.Backend != "bolt" {
		t.Fatalf("unexpected swap config %+v", sc)
	}
}

func TestLoad_ZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memsim.toml")
	if err := os.WriteFile(path, []byte("swap_size = 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.SwapSize = 0
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if c.TotalSize() != c.RAMSize {
		t.Fatalf("expected no swap capacity, got %d total", c.TotalSize())
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"default", func(*Config) {}, true},
		{"min page size", func(c *Config) { c.PageSize = 1024 }, true},
		{"max page size", func(c *Config) { c.PageSize = 32768 }, true},
		{"page size too small", func(c *Config) { c.PageSize = 512 }, false},
		{"page size too large", func(c *Config) { c.PageSize = 65536 }, false},
		{"page size not power of two", func(c *Config) { c.PageSize = 3000 }, false},
		{"no swap", func(c *Config) { c.SwapSize = 0 }, true},
		{"ram not page multiple", func(c *Config) { c.RAMSize = 4097 }, false},
		{"zero virtual size", func(c *Config) { c.VirtualSize = 0 }, false},
		{"unknown backend", func(c *Config) { c.SwapBackend = "tape" }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.modify(c)
			err := c.Validate()
			if tc.valid && err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if !tc.valid && !errdefs.IsInvalidArgument(err) {
				t.Fatalf("expected invalid argument error, got %v", err)
			}
		})
	}
}
