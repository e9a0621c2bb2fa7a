package adb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports that no adb binary could be located.
var ErrNotFound = errors.New("adb executable not found")

// CommandError describes a failed adb invocation.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit code %d", strings.Join(e.Argv, " "), e.ExitCode)
	if e.TimedOut {
		msg += " (timed out)"
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Transient reports whether the failure looks like a dropped transport rather
// than a real device-side error. adb prints a diagnostic on stderr when it
// reaches the device and the command fails; a silent non-zero exit or a
// timeout means the link itself broke, which is worth retrying.
func (e *CommandError) Transient() bool {
	return e.TimedOut || strings.TrimSpace(e.Stderr) == ""
}
