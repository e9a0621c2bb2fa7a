//go:build unix

package platform

import (
	"time"

	"golang.org/x/sys/unix"
)

// SetTimes sets both atime and mtime of path to sec (seconds since epoch).
func SetTimes(path string, sec int64) error {
	ts := unix.NsecToTimespec(sec * int64(time.Second))
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{ts, ts}, 0)
}
