package engine

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
)

// Staging files are written beside their destination and renamed into place,
// so a crash can only ever leave files matching this pattern behind. The
// name shape is a hard contract: startup cleanup deletes anything matching
// it inside the target root.
var stagingRe = regexp.MustCompile(`^\.tmp-[0-9a-f]{8}-`)

// StagingName returns a fresh staging file name for the given basename.
func StagingName(base string) string {
	return ".tmp-" + uuid.New().String()[:8] + "-" + base
}

// IsStaging reports whether a file name matches the staging pattern.
func IsStaging(name string) bool {
	return stagingRe.MatchString(name)
}

// SweepStaging removes leftover staging files under root, returning how many
// were deleted. Called once at startup before scanning.
func SweepStaging(root string) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root && os.IsNotExist(walkErr) {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || !IsStaging(d.Name()) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// tmpRegistry tracks in-progress staging files for defense-in-depth cleanup
// on cancellation or panic.
var globalTmpRegistry = &tmpRegistry{}

type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// RegisterTmp adds a staging file path to the global registry.
func RegisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	if globalTmpRegistry.paths == nil {
		globalTmpRegistry.paths = make(map[string]struct{})
	}
	globalTmpRegistry.paths[path] = struct{}{}
}

// DeregisterTmp removes a staging file path from the global registry.
func DeregisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	delete(globalTmpRegistry.paths, path)
}

// CleanupTmpFiles removes all registered staging files.
func CleanupTmpFiles() {
	globalTmpRegistry.mu.Lock()
	paths := make([]string, 0, len(globalTmpRegistry.paths))
	for p := range globalTmpRegistry.paths {
		paths = append(paths, p)
	}
	globalTmpRegistry.paths = nil
	globalTmpRegistry.mu.Unlock()

	for _, p := range paths {
		_ = os.Remove(p)
	}
}
