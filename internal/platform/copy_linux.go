//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// CopyFile copies srcPath into dst using the most efficient method the
// kernel and filesystems allow, falling through on unsupported/cross-device
// errors: copy_file_range, then sendfile, then plain read/write.
func CopyFile(srcPath string, dst *os.File, size int64) (int64, error) {
	n, err := copyFileRange(srcPath, dst, size)
	if err == nil {
		return n, nil
	}
	if !isFallbackErr(err) {
		return n, err
	}

	n, err = copySendfile(srcPath, dst, size)
	if err == nil {
		return n, nil
	}
	if !isFallbackErr(err) {
		return n, err
	}

	return copyReadWrite(srcPath, dst)
}

func copyFileRange(srcPath string, dst *os.File, size int64) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	remaining := size
	var roff, woff int64
	var total int64
	for remaining > 0 {
		n, err := unix.CopyFileRange(int(src.Fd()), &roff, int(dst.Fd()), &woff, int(remaining), 0)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
		total += int64(n)
	}
	return total, nil
}

func copySendfile(srcPath string, dst *os.File, size int64) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	remaining := size
	var offset int64
	var total int64
	for remaining > 0 {
		n, err := unix.Sendfile(int(dst.Fd()), int(src.Fd()), &offset, int(remaining))
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
		total += int64(n)
	}
	return total, nil
}

// isFallbackErr reports whether err should trigger the next copy strategy.
func isFallbackErr(err error) bool {
	switch err {
	case unix.ENOSYS, unix.EXDEV, unix.EINVAL, unix.ENOTSUP:
		return true
	}
	if e, ok := err.(*os.PathError); ok {
		return isFallbackErr(e.Err)
	}
	return false
}
