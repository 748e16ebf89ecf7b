// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package config holds the tunables of cryptcache and loads them from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/jeremyhahn/cryptcache/pkg/keys"
	"github.com/jeremyhahn/cryptcache/pkg/volume"
)

// EnvConfig names the variable that points at a configuration file
const EnvConfig = "CRYPTCACHE_CONFIG"

// Validation errors
var (
	ErrRelativeTool   = errors.New("tool path must be absolute")
	ErrInvalidSize    = errors.New("invalid container size")
	ErrInvalidKeySize = errors.New("invalid key size (must be 256 or 512 bits)")
	ErrInvalidMarker  = errors.New("disk marker extension must not be empty")
	ErrInvalidKeyFile = errors.New("key file size must be positive")
	ErrInvalidPrefix  = errors.New("mapper prefix must not be empty")
)

// Tools holds the executable paths
type Tools struct {
	Udisksctl  string `yaml:"udisksctl"`
	Mount      string `yaml:"mount"`
	Cryptsetup string `yaml:"cryptsetup"`
	Mkfs       string `yaml:"mkfs"`
}

// Config contains every tunable of the tool
type Config struct {
	// ContainerSize of new containers, with K/M/G/T suffix (e.g. "20G")
	ContainerSize string `yaml:"container_size"`

	Cipher   string `yaml:"cipher"`
	KeySize  int    `yaml:"key_size"`
	LUKSType string `yaml:"luks_type"`

	// KeyBytes is the expected size of a key file
	KeyBytes int `yaml:"key_bytes"`

	KeyDir    string `yaml:"key_dir"`
	KeyPrefix string `yaml:"key_prefix"`
	KeySuffix string `yaml:"key_suffix"`

	DiskMarkerExt string `yaml:"disk_marker_ext"`
	ElevationEnv  string `yaml:"elevation_env"`
	MapperPrefix  string `yaml:"mapper_prefix"`

	FilesystemLabel string `yaml:"filesystem_label"`

	Tools Tools `yaml:"tools"`
}

// Default returns the built-in configuration
func Default() *Config {
	t := volume.DefaultTools()
	l := keys.DefaultLocator()
	return &Config{
		ContainerSize: "20G",
		Cipher:        "aes-xts-plain64",
		KeySize:       512,
		LUKSType:      "luks2",
		KeyBytes:      512,
		KeyDir:        l.Dir,
		KeyPrefix:     l.Prefix,
		KeySuffix:     l.Suffix,
		DiskMarkerExt: keys.DefaultMarkerExt,
		ElevationEnv:  keys.DefaultElevationEnv,
		MapperPrefix:  "/dev/mapper/luks-",
		Tools: Tools{
			Udisksctl:  t.Udisksctl,
			Mount:      t.Mount,
			Cryptsetup: t.Cryptsetup,
			Mkfs:       t.Mkfs,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- user-provided configuration file
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	for name, p := range map[string]string{
		"udisksctl":  c.Tools.Udisksctl,
		"mount":      c.Tools.Mount,
		"cryptsetup": c.Tools.Cryptsetup,
		"mkfs":       c.Tools.Mkfs,
	} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%w: %s=%q", ErrRelativeTool, name, p)
		}
	}

	size, err := ParseSize(c.ContainerSize)
	if err != nil || size <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidSize, c.ContainerSize)
	}

	if c.KeySize != 256 && c.KeySize != 512 {
		return ErrInvalidKeySize
	}

	if c.KeyBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidKeyFile, c.KeyBytes)
	}

	if c.DiskMarkerExt == "" {
		return ErrInvalidMarker
	}

	if c.MapperPrefix == "" {
		return ErrInvalidPrefix
	}

	return nil
}

// ContainerBytes returns ContainerSize in bytes
func (c *Config) ContainerBytes() (int64, error) {
	return ParseSize(c.ContainerSize)
}

// Locator returns the key locator described by the configuration
func (c *Config) Locator() keys.Locator {
	return keys.Locator{Dir: c.KeyDir, Prefix: c.KeyPrefix, Suffix: c.KeySuffix}
}

// VolumeTools returns the executable paths for the volume package
func (c *Config) VolumeTools() volume.Tools {
	return volume.Tools{
		Udisksctl:  c.Tools.Udisksctl,
		Mount:      c.Tools.Mount,
		Cryptsetup: c.Tools.Cryptsetup,
		Mkfs:       c.Tools.Mkfs,
	}
}
