//go:build !unix

package platform

import (
	"os"
	"time"
)

// SetTimes sets both atime and mtime of path to sec (seconds since epoch).
func SetTimes(path string, sec int64) error {
	t := time.Unix(sec, 0)
	return os.Chtimes(path, t, t)
}
