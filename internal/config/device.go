package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DeviceConfig describes how one device is backed up. It is loaded from a
// KEY=VALUE file named after the device serial.
type DeviceConfig struct {
	// BackupDir is the device's directory under the backup base dir.
	BackupDir string
	// IncludeDirs are the absolute device-side trees to back up.
	IncludeDirs []string
	// ExcludeFile overrides the global default exclude file; may be empty.
	ExcludeFile string
	// MultipleVersions keeps one date-named snapshot per day instead of a
	// single mirror.
	MultipleVersions bool
}

// DevicePath returns the config file path for a device serial.
func DevicePath(serial string) string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "devices", serial+".conf")
}

// LoadDevice reads and validates a per-device config file. Recognized keys:
//
//	BACKUP_DIR        directory name under backup_base_dir (required)
//	INCLUDE_DIRS      colon-separated absolute device paths (required)
//	EXCLUDE_FILE      exclude file path (optional)
//	MULTIPLE_VERSIONS true/false (optional, default false)
func LoadDevice(path string) (DeviceConfig, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("read device config %s: %w", path, err)
	}

	cfg := DeviceConfig{
		BackupDir:   values["BACKUP_DIR"],
		ExcludeFile: values["EXCLUDE_FILE"],
	}
	if cfg.BackupDir == "" {
		return DeviceConfig{}, fmt.Errorf("device config %s: BACKUP_DIR is required", path)
	}

	for _, dir := range strings.Split(values["INCLUDE_DIRS"], ":") {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if !strings.HasPrefix(dir, "/") {
			return DeviceConfig{}, fmt.Errorf("device config %s: include dir %q is not absolute", path, dir)
		}
		cfg.IncludeDirs = append(cfg.IncludeDirs, strings.TrimRight(dir, "/"))
	}
	if len(cfg.IncludeDirs) == 0 {
		return DeviceConfig{}, fmt.Errorf("device config %s: INCLUDE_DIRS is required", path)
	}

	if raw := values["MULTIPLE_VERSIONS"]; raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return DeviceConfig{}, fmt.Errorf("device config %s: bad MULTIPLE_VERSIONS %q", path, raw)
		}
		cfg.MultipleVersions = v
	}
	return cfg, nil
}
