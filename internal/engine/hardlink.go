package engine

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chen3feng/android-backup/internal/platform"
)

// ProbeHardlink reports whether the target filesystem supports hard links
// from referenceRoot into localRoot. Called once per run; the executor
// downgrades to copy at the first runtime failure regardless, so a wrong
// positive here only costs one failed link attempt.
func ProbeHardlink(referenceRoot, localRoot string) bool {
	if refDev, err1 := platform.DeviceID(referenceRoot); err1 == nil {
		if localDev, err2 := platform.DeviceID(localRoot); err2 == nil && refDev != localDev {
			return false
		}
	}

	src := filepath.Join(referenceRoot, StagingName("linkprobe"))
	if err := os.WriteFile(src, nil, 0o644); err != nil {
		slog.Debug("hardlink probe: cannot write probe file", "path", src, "error", err)
		return false
	}
	defer os.Remove(src)

	dst := filepath.Join(localRoot, StagingName("linkprobe"))
	if err := os.Link(src, dst); err != nil {
		return false
	}
	defer os.Remove(dst)

	if n, err := platform.LinkCount(dst); err == nil && n < 2 {
		return false
	}
	return true
}
