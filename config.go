package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
)

const defaultBaseDir = "/data/local/isodrive"

// Config holds the tool's settings. Everything has a working default; the
// file only needs to exist to override something.
type Config struct {
	BaseDir      string `toml:"base_dir"`
	Gadget       Gadget `toml:"gadget"`
	Loop         Loop   `toml:"loop,omitempty"`
	SettleMillis int    `toml:"settle_millis"`
	DebugLogging bool   `toml:"debug_logging"`
}

// Gadget carries the USB device descriptor values written when composing a
// new configfs gadget. Descriptors already populated by other tooling are
// left alone.
type Gadget struct {
	VendorID     string `toml:"vendor_id"`
	ProductID    string `toml:"product_id"`
	Manufacturer string `toml:"manufacturer"`
	Product      string `toml:"product"`
	Serial       string `toml:"serial"`
}

type Loop struct {
	// MaxNodes bounds how many /dev/loopN nodes the allocator materializes
	// when none are free.
	MaxNodes int `toml:"max_nodes"`
}

func defaultConfig() Config {
	return Config{
		BaseDir: defaultBaseDir,
		Gadget: Gadget{
			VendorID:     "0x18d1",
			ProductID:    "0x4e26",
			Manufacturer: "isodrive",
			Product:      "Mass Storage Gadget",
			Serial:       uuid.NewString(),
		},
		Loop:         Loop{MaxNodes: 8},
		SettleMillis: 1000,
	}
}

// LoadConfig reads the TOML config at path, falling back to defaults when
// the file does not exist. Unset fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.BaseDir == "" {
		cfg.BaseDir = defaultBaseDir
	}
	if cfg.SettleMillis <= 0 {
		cfg.SettleMillis = 1000
	}
	if cfg.Loop.MaxNodes <= 0 {
		cfg.Loop.MaxNodes = 8
	}

	return cfg, nil
}

func (c Config) ImagesDir() string { return filepath.Join(c.BaseDir, "images") }
func (c Config) LogsDir() string   { return filepath.Join(c.BaseDir, "logs") }
func (c Config) DataDir() string   { return filepath.Join(c.BaseDir, "state") }

// DefaultConfigPath is where the CLI looks without an explicit --config.
func DefaultConfigPath() string {
	return filepath.Join(defaultBaseDir, "config.toml")
}
