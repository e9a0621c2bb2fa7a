// Package config loads the optional global configuration and the per-device
// configuration files that drive multi-device backups.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional global configuration file.
type Config struct {
	// ADBPath overrides adb lookup via $PATH / $ANDROID_HOME.
	ADBPath string `toml:"adb_path"`
	// BackupBaseDir is where per-device backup directories live.
	BackupBaseDir string `toml:"backup_base_dir"`
	// DefaultExcludeFile applies to devices that name no exclude file.
	DefaultExcludeFile string `toml:"default_exclude_file"`

	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults.
type DefaultsConfig struct {
	Concurrency *int  `toml:"concurrency"`
	Verbose     *bool `toml:"verbose"`
}

// Dir returns the configuration directory.
func Dir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "adbsync")
}

// Path returns the resolved path to the global config file.
func Path() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config (no
// error) if the file does not exist. The global config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads a config file from an explicit path. A missing file yields
// a zero Config without error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}
