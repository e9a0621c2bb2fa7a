//go:build darwin

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// CopyFile tries clonefile for a CoW copy, falling back to read/write. The
// destination already exists as a staging file, so clonefile reports EEXIST
// and the fallback does the work unless the staging file was just unlinked.
func CopyFile(srcPath string, dst *os.File, size int64) (int64, error) {
	err := unix.Clonefile(srcPath, dst.Name(), 0)
	if err == nil {
		return size, nil
	}
	switch err {
	case unix.ENOTSUP, unix.EXDEV, unix.EEXIST:
		return copyReadWrite(srcPath, dst)
	}
	return 0, err
}
