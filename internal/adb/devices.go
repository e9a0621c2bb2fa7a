package adb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// Device identifies one connected device. Address is what `adb devices`
// printed (the serial, or ip:port for wireless connections); Serial is the
// real hardware serial, and Name a human-readable device name when one could
// be resolved.
type Device struct {
	Address string
	Serial  string
	Name    string
}

func (d Device) String() string {
	if d.Address != d.Serial {
		return fmt.Sprintf("serial=%s name=%q address=%s", d.Serial, d.Name, d.Address)
	}
	return fmt.Sprintf("serial=%s name=%q", d.Serial, d.Name)
}

// FindADB locates the adb executable: $PATH first, then
// $ANDROID_HOME/platform-tools.
func FindADB() (string, error) {
	if p, err := exec.LookPath("adb"); err == nil {
		return p, nil
	}
	if home := os.Getenv("ANDROID_HOME"); home != "" {
		name := "adb"
		if runtime.GOOS == "windows" {
			name = "adb.exe"
		}
		p := filepath.Join(home, "platform-tools", name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Discover lists connected, authorized devices and resolves their real
// serial and display name. Unauthorized devices are logged and skipped.
func Discover(ctx context.Context, adbPath string) ([]Device, error) {
	out, err := New(adbPath, "").Output(ctx, "devices")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	ready, unauthorized := parseDevices(out)
	for _, addr := range unauthorized {
		slog.Warn("device not authorized, skipping; confirm the prompt on its screen", "address", addr)
	}

	devices := make([]Device, 0, len(ready))
	for _, addr := range ready {
		a := New(adbPath, addr)
		dev := Device{Address: addr, Serial: addr}
		if isIPPort(addr) {
			// Wireless connections report ip:port; ask the device for the
			// real serial so per-device config stays stable across networks.
			serial, err := a.shellValue(ctx, "getprop ro.boot.serialno")
			if err != nil {
				return nil, fmt.Errorf("resolve serial of %s: %w", addr, err)
			}
			dev.Serial = serial
		}
		dev.Name = a.deviceName(ctx)
		devices = append(devices, dev)
	}
	return devices, nil
}

// parseDevices splits `adb devices` output into ready and unauthorized
// device addresses.
func parseDevices(out []byte) (ready, unauthorized []string) {
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 2 {
			continue
		}
		switch fields[1] {
		case "device":
			ready = append(ready, fields[0])
		case "unauthorized":
			unauthorized = append(unauthorized, fields[0])
		}
	}
	return ready, unauthorized
}

// deviceName tries the known name sources in order of quality.
func (a *ADB) deviceName(ctx context.Context) string {
	sources := []string{
		"settings get secure bluetooth_name",
		"getprop persist.sys.device_name",
		"settings get global device_name",
	}
	for _, cmd := range sources {
		name, err := a.shellValue(ctx, cmd)
		if err == nil && name != "" && name != "null" {
			return name
		}
	}
	return ""
}

func (a *ADB) shellValue(ctx context.Context, command string) (string, error) {
	out, err := a.Shell(ctx, command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

var ipPortRe = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+:\d+$`)

func isIPPort(address string) bool {
	return ipPortRe.MatchString(address)
}
