package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/Microsoft/memsim/internal/config"
	"github.com/Microsoft/memsim/internal/swap"
	"github.com/Microsoft/memsim/internal/vmm"
)

const (
	configFlag      = "config"
	pageSizeFlag    = "page-size"
	swapFileFlag    = "swap-file"
	swapBackendFlag = "swap-backend"
	seedFlag        = "seed"
	logLevelFlag    = "log-level"
	logFileFlag     = "log-file"
	traceFlag       = "trace"
)

const (
	configKey  = "config"
	logFileKey = "logfile"
)

var appCommands = []*cli.Command{
	shellCommand,
	runCommand,
}

func app() *cli.App {
	return &cli.App{
		Name:           "memsim",
		Usage:          "Simulate the paged memory manager of an operating system",
		Commands:       appCommands,
		Action:         shell,
		ExitErrHandler: errHandler,
		Before:         beforeApp,
		After:          afterApp,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load settings from a TOML `FILE`",
			},
			&cli.IntFlag{
				Name:    pageSizeFlag,
				Aliases: []string{"p"},
				Usage:   "page size in bytes, a power of two in [1024, 32768]",
			},
			&cli.StringFlag{
				Name:  swapFileFlag,
				Usage: "`PATH` of the backing store extending physical memory",
			},
			&cli.StringFlag{
				Name:  swapBackendFlag,
				Usage: fmt.Sprintf("backing store format, %q or %q", swap.BackendFile, swap.BackendBolt),
			},
			&cli.Uint64Flag{
				Name:  seedFlag,
				Usage: "seed for the generated TEXT and GLOBALS sizes; 0 uses the clock",
			},
			&cli.StringFlag{
				Name:  logLevelFlag,
				Usage: "logrus level of the diagnostic log",
			},
			&cli.StringFlag{
				Name:  logFileFlag,
				Usage: "write the diagnostic log to `FILE` instead of stderr",
			},
			&cli.BoolFlag{
				Name:  traceFlag,
				Usage: "export a span for every memory manager operation to the log",
			},
		},
	}
}

// loadConfig reads the config file named by the flags and applies the flag
// overrides on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(configFlag))
	if err != nil {
		return nil, err
	}
	cfg.Merge(&config.Config{
		PageSize:    c.Int(pageSizeFlag),
		SwapPath:    c.String(swapFileFlag),
		SwapBackend: c.String(swapBackendFlag),
		Seed:        c.Uint64(seedFlag),
		LogLevel:    c.String(logLevelFlag),
	})
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func beforeApp(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	c.App.Metadata = map[string]interface{}{configKey: cfg}

	f, err := setupLogging(cfg.LogLevel, c.String(logFileFlag), c.Bool(traceFlag))
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	if f != nil {
		c.App.Metadata[logFileKey] = f
	}
	return nil
}

func afterApp(c *cli.Context) error {
	if f, ok := c.App.Metadata[logFileKey].(*os.File); ok {
		return f.Close()
	}
	return nil
}

func errHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	n := c.App.Name
	if c.Command != nil {
		if nn := c.Command.FullName(); nn != "" {
			n += " " + nn
		}
	}
	logrus.WithError(err).Debug("command failed")
	cli.HandleExitCoder(cli.Exit(fmt.Errorf("%s: %w", n, err), 1))
}

// newManager opens the backing store and builds the memory manager. The
// returned cleanup closes the store.
func newManager(c *cli.Context) (*vmm.Manager, func(), error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, nil, errors.New("configuration not loaded")
	}
	backing, err := swap.Open(cfg.SwapConfig())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open backing store")
	}
	m, err := vmm.New(cfg, backing, nil)
	if err != nil {
		backing.Close()
		return nil, nil, err
	}
	return m, func() { backing.Close() }, nil
}
