//go:build !unix

package platform

import "errors"

// DeviceID is unavailable here; the hardlink probe falls back to attempting
// the link and inspecting the result.
func DeviceID(string) (uint64, error) {
	return 0, errors.ErrUnsupported
}

// LinkCount is unavailable here.
func LinkCount(string) (uint64, error) {
	return 0, errors.ErrUnsupported
}
