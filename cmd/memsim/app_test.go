package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	cli "github.com/urfave/cli/v2"

	"github.com/Microsoft/memsim/internal/config"
)

func runLoadConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	a := app()
	a.Before = nil
	a.After = nil
	a.ExitErrHandler = func(*cli.Context, error) {}
	var cfg *config.Config
	a.Action = func(c *cli.Context) (err error) {
		cfg, err = loadConfig(c)
		return err
	}
	err := a.Run(append([]string{"memsim"}, args...))
	return cfg, err
}

func TestLoadConfig_Flags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memsim.toml")
	if err := os.WriteFile(path, []byte("page_size = 2048\nseed = 3\nlog_level = \"debug\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := runLoadConfig(t, "--config", path, "--page-size", "8192", "--swap-backend", "bolt")
	if err != nil {
		t.Fatal(err)
	}
	// flags win over the file, the file over the defaults
	if cfg.PageSize != 8192 || cfg.SwapBackend != "bolt" || cfg.Seed != 3 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfig_InvalidPageSize(t *testing.T) {
	if _, err := runLoadConfig(t, "--page-size", "1000"); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument error, got %v", err)
	}
}
