// Package config loads hatchery settings from a YAML file in the config
// directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zboralski/hatchery/internal/emulator"
	"github.com/zboralski/hatchery/internal/image"
	"github.com/zboralski/hatchery/internal/seed"
)

const (
	// EnvDir overrides the config directory. Relative values are taken
	// from the home directory.
	EnvDir = "HATCHERY_CONFIG_DIR"

	DefaultDir     = ".hatchery"
	FileName       = "config.yaml"
	BinaryPathFile = "binary_path.txt"
	SeedFileName   = "seed.txt"
)

// DefaultSeed is used when neither an inline seed nor a seed file is set.
var DefaultSeed = seed.Seed{0x68617463686572}

// Config holds the settings of one run.
type Config struct {
	// Binary is the ELF file under test.
	Binary string `yaml:"binary"`

	// Arch and Mode select the emulation target ("arm"/"thumb",
	// "mips"/"little").
	Arch string `yaml:"arch"`
	Mode string `yaml:"mode"`

	// Seed holds inline hex seed words; SeedFile names a file with one
	// hex word per line. Both may be given and are concatenated.
	Seed     []string `yaml:"seed"`
	SeedFile string   `yaml:"seed_file"`

	StackSize      uint64 `yaml:"stack_size"`
	StrictSections bool   `yaml:"strict_sections"`

	Run     RunConfig `yaml:"run"`
	Workers int       `yaml:"workers"`
	Debug   bool      `yaml:"debug"`

	// dir resolves relative paths; empty means the working directory.
	dir string
}

// RunConfig bounds each emulation run. Zero means unlimited.
type RunConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Instructions uint64        `yaml:"instructions"`
}

// Default returns the settings used when no file overrides them.
func Default() *Config {
	return &Config{
		Arch:      "arm",
		Mode:      "arm",
		StackSize: image.DefaultStackSize,
		Run: RunConfig{
			Timeout:      100 * time.Millisecond,
			Instructions: 0x10000,
		},
		Workers: 4,
	}
}

// Dir returns the config directory: $HATCHERY_CONFIG_DIR, else ~/.hatchery.
func Dir() (string, error) {
	d := os.Getenv(EnvDir)
	if d == "" {
		d = DefaultDir
	}
	if filepath.IsAbs(d) {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(home, d), nil
}

// Load reads a YAML file over the defaults. Relative paths inside it are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDir loads dir/config.yaml when present, else the defaults. A
// binary_path.txt or seed.txt in dir fills Binary or SeedFile when the
// YAML leaves them empty.
func LoadDir(dir string) (*Config, error) {
	cfg, err := Load(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
		cfg.dir = dir
	}
	if err != nil {
		return nil, err
	}

	if cfg.Binary == "" {
		b, err := os.ReadFile(filepath.Join(dir, BinaryPathFile))
		switch {
		case err == nil:
			cfg.Binary = strings.TrimSpace(string(b))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", BinaryPathFile, err)
		}
	}
	if cfg.SeedFile == "" {
		if _, err := os.Stat(filepath.Join(dir, SeedFileName)); err == nil {
			cfg.SeedFile = SeedFileName
		}
	}
	return cfg, nil
}

// Validate checks the fields that have a fixed vocabulary.
func (c *Config) Validate() error {
	if _, err := c.Target(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers: must not be negative, got %d", c.Workers)
	}
	if c.Run.Timeout < 0 {
		return fmt.Errorf("run.timeout: must not be negative, got %s", c.Run.Timeout)
	}
	return nil
}

// Target parses Arch and Mode.
func (c *Config) Target() (emulator.Target, error) {
	a, err := emulator.ParseArch(c.Arch)
	if err != nil {
		return emulator.Target{}, err
	}
	m, err := emulator.ParseMode(c.Mode)
	if err != nil {
		return emulator.Target{}, err
	}
	t := emulator.Target{Arch: a, Mode: m}
	if err := t.Validate(); err != nil {
		return emulator.Target{}, err
	}
	return t, nil
}

// Path resolves p against the config file's directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// ReadBinary returns the contents of Binary.
func (c *Config) ReadBinary() ([]byte, error) {
	if c.Binary == "" {
		return nil, errors.New("no binary configured")
	}
	buf, err := os.ReadFile(c.Path(c.Binary))
	if err != nil {
		return nil, fmt.Errorf("read binary: %w", err)
	}
	return buf, nil
}

// SeedWords returns the inline seed followed by the seed file's words, or
// DefaultSeed when both are empty.
func (c *Config) SeedWords() (seed.Seed, error) {
	var s seed.Seed
	for i, w := range c.Seed {
		v, err := seed.ParseWord(w)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		s = append(s, v)
	}
	if c.SeedFile != "" {
		b, err := os.ReadFile(c.Path(c.SeedFile))
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		words, err := seed.Parse(string(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.SeedFile, err)
		}
		s = append(s, words...)
	}
	if len(s) == 0 {
		return append(seed.Seed(nil), DefaultSeed...), nil
	}
	return s, nil
}

// ImageOptions returns the build options the config selects.
func (c *Config) ImageOptions() []image.Option {
	return []image.Option{
		image.WithStackSize(c.StackSize),
		image.WithStrictSections(c.StrictSections),
	}
}
