// Package config loads and validates the simulator configuration.
package config

import (
	"math/bits"

	"github.com/containerd/errdefs"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Microsoft/memsim/internal/memory"
	"github.com/Microsoft/memsim/internal/swap"
)

// Page size limits.
const (
	MinPageSize = 1024
	MaxPageSize = 32768
)

// Config is the content of a memsim.toml file.
type Config struct {
	PageSize    int    `toml:"page_size"`
	RAMSize     int    `toml:"ram_size"`
	SwapSize    int    `toml:"swap_size"`
	VirtualSize int    `toml:"virtual_size"`
	SwapPath    string `toml:"swap_path"`
	SwapBackend string `toml:"swap_backend"`
	Seed        uint64 `toml:"seed"`
	LogLevel    string `toml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		PageSize:    4 * memory.KiB,
		RAMSize:     memory.DefaultRAMSize,
		SwapSize:    memory.DefaultTotalSize - memory.DefaultRAMSize,
		VirtualSize: 2 * memory.MiB,
		SwapPath:    "memsim.swap",
		SwapBackend: swap.BackendFile,
		LogLevel:    logrus.InfoLevel.String(),
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %s", path)
	}
	var fc Config
	if err := tree.Unmarshal(&fc); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config file %s", path)
	}
	// Keys present in the file win even when zero, so swap_size = 0 turns
	// swap off.
	for key, apply := range map[string]func(){
		"page_size":    func() { c.PageSize = fc.PageSize },
		"ram_size":     func() { c.RAMSize = fc.RAMSize },
		"swap_size":    func() { c.SwapSize = fc.SwapSize },
		"virtual_size": func() { c.VirtualSize = fc.VirtualSize },
		"swap_path":    func() { c.SwapPath = fc.SwapPath },
		"swap_backend": func() { c.SwapBackend = fc.SwapBackend },
		"seed":         func() { c.Seed = fc.Seed },
		"log_level":    func() { c.LogLevel = fc.LogLevel },
	} {
		if tree.Has(key) {
			apply()
		}
	}
	return c, nil
}

// Merge copies every non-zero field of o into c. It applies command line
// overrides, where a zero value means the flag was not given.
func (c *Config) Merge(o *Config) {
	if o.PageSize != 0 {
		c.PageSize = o.PageSize
	}
	if o.RAMSize != 0 {
		c.RAMSize = o.RAMSize
	}
	if o.SwapSize != 0 {
		c.SwapSize = o.SwapSize
	}
	if o.VirtualSize != 0 {
		c.VirtualSize = o.VirtualSize
	}
	if o.SwapPath != "" {
		c.SwapPath = o.SwapPath
	}
	if o.SwapBackend != "" {
		c.SwapBackend = o.SwapBackend
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// TotalSize returns the combined RAM and swap capacity.
func (c *Config) TotalSize() int {
	return c.RAMSize + c.SwapSize
}

// SwapConfig describes the backing store sized to the combined capacity.
func (c *Config) SwapConfig() swap.Config {
	return swap.Config{
		Backend:  c.SwapBackend,
		Path:     c.SwapPath,
		Size:     int64(c.TotalSize()),
		PageSize: c.PageSize,
	}
}

// Validate checks the page size and that every region is a whole number of
// pages.
func (c *Config) Validate() error {
	if c.PageSize < MinPageSize || c.PageSize > MaxPageSize || bits.OnesCount(uint(c.PageSize)) != 1 {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "page size %d is not a power of two in [%d, %d]", c.PageSize, MinPageSize, MaxPageSize)
	}
	for _, r := range []struct {
		name string
		size int
		zero bool
	}{
		{"ram_size", c.RAMSize, false},
		{"swap_size", c.SwapSize, true},
		{"virtual_size", c.VirtualSize, false},
	} {
		if r.size < 0 || (r.size == 0 && !r.zero) || r.size%c.PageSize != 0 {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "%s %d is not a positive multiple of page size %d", r.name, r.size, c.PageSize)
		}
	}
	switch c.SwapBackend {
	case swap.BackendFile, swap.BackendBolt:
	default:
		return errors.Wrapf(errdefs.ErrInvalidArgument, "unknown swap backend %q", c.SwapBackend)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "log level: %v", err)
	}
	return nil
}
