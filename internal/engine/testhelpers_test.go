package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chen3feng/android-backup/internal/adb"
)

// fakeTransport plays an Android device backed by a local directory. Scans
// walk the directory and answer in `find -printf` record format; pulls copy
// the file, optionally failing a configured number of times first.
type fakeTransport struct {
	t          *testing.T
	remoteRoot string // device-side root, e.g. /sdcard/DCIM
	dir        string // local directory holding the "device" tree

	mu        sync.Mutex
	failPulls map[string]int // remote path -> remaining injected failures
	pulls     []string       // remote paths pulled, in order
}

func newFakeTransport(t *testing.T, remoteRoot string) *fakeTransport {
	t.Helper()
	return &fakeTransport{
		t:          t,
		remoteRoot: remoteRoot,
		dir:        t.TempDir(),
		failPulls:  map[string]int{},
	}
}

func (f *fakeTransport) failPull(rel string, times int) {
	f.failPulls[f.remoteRoot+"/"+rel] = times
}

func (f *fakeTransport) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

func (f *fakeTransport) Shell(_ context.Context, command string) ([]byte, error) {
	// The only plain-shell use in the printf path is the capability probe.
	if strings.Contains(command, "-maxdepth 0") {
		return nil, nil
	}
	return nil, fmt.Errorf("fake transport: unexpected shell command %q", command)
}

func (f *fakeTransport) ShellRecords(_ context.Context, command string, sep byte, fn func([]byte) error) error {
	if !strings.Contains(command, "find ") {
		return fmt.Errorf("fake transport: unexpected streaming command %q", command)
	}
	return filepath.WalkDir(f.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		devicePath := f.remoteRoot
		if p != f.dir {
			rel, err := filepath.Rel(f.dir, p)
			if err != nil {
				return err
			}
			devicePath = f.remoteRoot + "/" + filepath.ToSlash(rel)
		}
		typ := "f"
		if d.IsDir() {
			typ = "d"
		} else if info.Mode()&os.ModeSymlink != 0 {
			typ = "l"
		}
		record := fmt.Sprintf("%s\t%d\t%d.0000000000\t%s", typ, info.Size(), info.ModTime().Unix(), devicePath)
		return fn([]byte(record))
	})
}

func (f *fakeTransport) Pull(_ context.Context, remote, local string) error {
	f.mu.Lock()
	if n := f.failPulls[remote]; n > 0 {
		f.failPulls[remote] = n - 1
		f.mu.Unlock()
		return &adb.CommandError{Argv: []string{"adb", "pull", remote}, ExitCode: 1}
	}
	f.pulls = append(f.pulls, remote)
	f.mu.Unlock()

	rel, ok := strings.CutPrefix(remote, f.remoteRoot+"/")
	if !ok {
		return fmt.Errorf("fake transport: pull of %q outside root %q", remote, f.remoteRoot)
	}
	src := filepath.Join(f.dir, filepath.FromSlash(rel))
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(local, data, 0o644)
}

// writeFile creates a file under root with the given content and mtime.
func writeFile(t *testing.T, root, rel, content string, mtime int64) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	ts := time.Unix(mtime, 0)
	require.NoError(t, os.Chtimes(p, ts, ts))
}

// writeDir creates a directory under root.
func writeDir(t *testing.T, root, rel string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(rel)), 0o755))
}

// readFile returns the content of a file under root.
func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// listStaging returns any staging files left under root.
func listStaging(t *testing.T, root string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsStaging(d.Name()) {
			found = append(found, p)
		}
		return nil
	})
	require.NoError(t, err)
	return found
}
