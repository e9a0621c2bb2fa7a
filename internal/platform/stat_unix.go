//go:build unix

package platform

import "golang.org/x/sys/unix"

// DeviceID returns the filesystem device id of path. Two paths on different
// devices can never share a hard link.
func DeviceID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}

// LinkCount returns the number of directory entries referencing path.
func LinkCount(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Nlink), nil
}
