// Package backup is the multi-device driver around the pull engine: it
// discovers connected devices, loads their configuration, rotates date-named
// snapshots, and maintains the "latest" pointer.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/chen3feng/android-backup/internal/adb"
	"github.com/chen3feng/android-backup/internal/config"
	"github.com/chen3feng/android-backup/internal/engine"
	"github.com/chen3feng/android-backup/internal/event"
	"github.com/chen3feng/android-backup/internal/ignore"
	"github.com/chen3feng/android-backup/internal/stats"
)

// Options configures a multi-device backup run.
type Options struct {
	// ADBPath overrides adb binary discovery.
	ADBPath string
	// ConfigPath overrides the global config file location.
	ConfigPath string
	Concurrency int
	DryRun      bool
	Stats       *stats.Collector
	Events      chan<- event.Event
	// Now supplies the snapshot date; nil means time.Now.
	Now func() time.Time
}

// ErrNoDevices reports that no authorized device is connected.
var ErrNoDevices = errors.New("no device connected")

// Run backs up every connected device according to its configuration.
// Per-file failures do not stop the run; the returned failure count covers
// all devices.
func Run(ctx context.Context, opts Options) (failures int, err error) {
	global, err := loadGlobal(opts.ConfigPath)
	if err != nil {
		return 0, err
	}

	adbPath := opts.ADBPath
	if adbPath == "" {
		adbPath = global.ADBPath
	}
	if adbPath == "" {
		if adbPath, err = adb.FindADB(); err != nil {
			return 0, err
		}
	}
	if global.BackupBaseDir == "" {
		return 0, fmt.Errorf("backup_base_dir is not set in %s", config.Path())
	}

	devices, err := adb.Discover(ctx, adbPath)
	if err != nil {
		return 0, err
	}
	if len(devices) == 0 {
		return 0, ErrNoDevices
	}
	for _, dev := range devices {
		slog.Info("found device", "serial", dev.Serial, "name", dev.Name, "address", dev.Address)
	}

	// Load every device config up front so one typo does not interrupt a
	// half-finished multi-device run.
	configs := make(map[string]config.DeviceConfig, len(devices))
	for _, dev := range devices {
		path := config.DevicePath(dev.Serial)
		cfg, err := config.LoadDevice(path)
		if err != nil {
			return 0, err
		}
		configs[dev.Serial] = cfg
	}

	for _, dev := range devices {
		n, err := backupDevice(ctx, adbPath, dev, global, configs[dev.Serial], opts)
		failures += n
		if err != nil {
			return failures, fmt.Errorf("backup device %s: %w", dev.Serial, err)
		}
	}
	return failures, nil
}

func loadGlobal(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func backupDevice(ctx context.Context, adbPath string, dev adb.Device, global config.Config, devCfg config.DeviceConfig, opts Options) (int, error) {
	deviceDir := filepath.Join(global.BackupBaseDir, devCfg.BackupDir)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return 0, err
	}
	slog.Info("backing up device", "name", dev.Name, "dir", deviceDir)

	lock := flock.New(filepath.Join(deviceDir, ".adbsync.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("lock backup dir: %w", err)
	}
	if !locked {
		return 0, fmt.Errorf("another backup of %s is already running", deviceDir)
	}
	defer lock.Unlock()

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	backupDir := deviceDir
	referenceDir := ""
	latestPath := ""
	versionDir := ""
	if devCfg.MultipleVersions {
		// One snapshot per day keeps the count manageable.
		versionDir = now().Format("2006-01-02")
		backupDir = filepath.Join(deviceDir, versionDir)
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return 0, err
		}
		latestPath, referenceDir = LastBackupDir(deviceDir)
	}

	excludes, err := loadExcludes(devCfg, global)
	if err != nil {
		return 0, err
	}

	// Address, not serial: a wireless device is reached via ip:port even
	// though its config file is named after the hardware serial.
	transport := adb.New(adbPath, dev.Address)
	failures := 0
	for _, include := range devCfg.IncludeDirs {
		rel := filepath.FromSlash(strings.TrimPrefix(include, "/"))
		pullOpts := engine.Options{
			Transport:   transport,
			RemoteRoot:  include,
			LocalRoot:   filepath.Join(backupDir, rel),
			Excludes:    excludes,
			Delete:      !devCfg.MultipleVersions,
			Concurrency: opts.Concurrency,
			DryRun:      opts.DryRun,
			Stats:       opts.Stats,
			Events:      opts.Events,
		}
		if referenceDir != "" {
			pullOpts.ReferenceRoot = filepath.Join(referenceDir, rel)
		}

		result := engine.Pull(ctx, pullOpts)
		failures += len(result.Failures)
		if result.Err != nil {
			return failures, result.Err
		}
	}

	if devCfg.MultipleVersions && !opts.DryRun {
		if UpdateLatest(latestPath, versionDir) {
			slog.Info("updated latest pointer", "target", versionDir)
		} else {
			slog.Warn("failed to update latest pointer", "path", latestPath, "target", versionDir)
		}
	}
	return failures, nil
}

func loadExcludes(devCfg config.DeviceConfig, global config.Config) (*ignore.RuleSet, error) {
	path := devCfg.ExcludeFile
	if path == "" {
		path = global.DefaultExcludeFile
	}
	if path == "" {
		return nil, nil
	}
	return ignore.Load(path)
}

// LastBackupDir resolves the previous snapshot through the "latest" pointer
// (a symlink, or a tag file holding the directory name). Returns the pointer
// path and the resolved directory, "" when there is no previous snapshot.
func LastBackupDir(deviceDir string) (latestPath, lastDir string) {
	latestPath = filepath.Join(deviceDir, "latest")

	target := ""
	if fi, err := os.Lstat(latestPath); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			target, _ = os.Readlink(latestPath)
		} else {
			data, err := os.ReadFile(latestPath)
			if err != nil {
				return latestPath, ""
			}
			target = strings.TrimSpace(string(data))
		}
	}
	if target == "" {
		return latestPath, ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(deviceDir, target)
	}
	return latestPath, target
}

// UpdateLatest points "latest" at the new snapshot directory: a symlink when
// the filesystem allows it, a tag file otherwise (Windows without symlink
// privilege).
func UpdateLatest(latestPath, versionDir string) bool {
	if fi, err := os.Lstat(latestPath); err == nil && fi.Mode()&os.ModeSymlink == 0 {
		return updateTagFile(latestPath, versionDir)
	}
	if updateSymlink(latestPath, versionDir) {
		return true
	}
	return updateTagFile(latestPath, versionDir)
}

func updateSymlink(latestPath, versionDir string) bool {
	if target, err := os.Readlink(latestPath); err == nil {
		if target == versionDir {
			return true
		}
		if err := os.Remove(latestPath); err != nil {
			return false
		}
	}
	return os.Symlink(versionDir, latestPath) == nil
}

func updateTagFile(latestPath, versionDir string) bool {
	return os.WriteFile(latestPath, []byte(versionDir), 0o644) == nil
}
