//go:build !linux && !darwin

package platform

import "os"

// CopyFile falls back to read/write on platforms without a faster path.
func CopyFile(srcPath string, dst *os.File, _ int64) (int64, error) {
	return copyReadWrite(srcPath, dst)
}
