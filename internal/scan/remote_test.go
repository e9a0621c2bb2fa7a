package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chen3feng/android-backup/internal/adb"
	"github.com/chen3feng/android-backup/internal/ignore"
)

// fakeRunner serves canned find/stat output.
type fakeRunner struct {
	printfOK bool
	records  []string          // NUL-separated records for the printf path
	findOut  string            // newline path list for the fallback
	statOut  map[string]string // substring of stat command -> output
}

func (f *fakeRunner) Shell(_ context.Context, command string) ([]byte, error) {
	switch {
	case strings.Contains(command, "-maxdepth 0"):
		if f.printfOK {
			return nil, nil
		}
		return nil, &adb.CommandError{ExitCode: 1, Stderr: "find: unknown option -printf"}
	case strings.HasPrefix(command, "stat "):
		for key, out := range f.statOut {
			if strings.Contains(command, key) {
				return []byte(out), nil
			}
		}
		return nil, &adb.CommandError{ExitCode: 1, Stderr: "stat: not found"}
	case strings.HasPrefix(command, "find "):
		return []byte(f.findOut), nil
	}
	return nil, fmt.Errorf("unexpected command %q", command)
}

func (f *fakeRunner) ShellRecords(_ context.Context, command string, sep byte, fn func([]byte) error) error {
	if !strings.Contains(command, "-printf") {
		return fmt.Errorf("unexpected streaming command %q", command)
	}
	for _, rec := range f.records {
		if err := fn([]byte(rec)); err != nil {
			return err
		}
	}
	return nil
}

func record(typ string, size int64, mtime, path string) string {
	return fmt.Sprintf("%s\t%d\t%s\t%s", typ, size, mtime, path)
}

func TestRemoteScanPrintf(t *testing.T) {
	runner := &fakeRunner{
		printfOK: true,
		records: []string{
			record("d", 4096, "1700000000.0000000000", "/sdcard/DCIM"),
			record("d", 4096, "1700000001.5000000000", "/sdcard/DCIM/Camera"),
			record("f", 12345, "1700000100.1234567890", "/sdcard/DCIM/Camera/IMG_1.jpg"),
			record("l", 0, "1700000000.0000000000", "/sdcard/DCIM/shortcut"),
			record("s", 0, "1700000000.0000000000", "/sdcard/DCIM/socket"),
		},
	}

	inv, err := NewRemoteScanner(runner, nil).Scan(context.Background(), "/sdcard/DCIM")
	require.NoError(t, err)
	require.Len(t, inv, 4) // root itself is skipped

	img := inv["Camera/IMG_1.jpg"]
	assert.Equal(t, KindFile, img.Kind)
	assert.Equal(t, int64(12345), img.Size)
	assert.Equal(t, int64(1700000100), img.MTime, "fractional seconds are truncated")

	camera := inv["Camera"]
	assert.Equal(t, KindDir, camera.Kind)
	assert.Zero(t, camera.Size, "directory size is normalized to zero")

	assert.Equal(t, KindSymlink, inv["shortcut"].Kind)
	assert.Equal(t, KindOther, inv["socket"].Kind)
}

func TestRemoteScanTrailingSlashRoot(t *testing.T) {
	runner := &fakeRunner{
		printfOK: true,
		records: []string{
			record("d", 0, "1700000000.0", "/sdcard/DCIM"),
			record("f", 5, "1700000000.0", "/sdcard/DCIM/a.jpg"),
		},
	}
	inv, err := NewRemoteScanner(runner, nil).Scan(context.Background(), "/sdcard/DCIM/")
	require.NoError(t, err)
	assert.Contains(t, inv, "a.jpg")
}

func TestRemoteScanExcludesPruneSubtrees(t *testing.T) {
	runner := &fakeRunner{
		printfOK: true,
		records: []string{
			record("d", 0, "1700000000.0", "/sdcard/DCIM"),
			record("d", 0, "1700000000.0", "/sdcard/DCIM/.thumbnails"),
			record("f", 10, "1700000000.0", "/sdcard/DCIM/.thumbnails/a.bin"),
			record("f", 20, "1700000000.0", "/sdcard/DCIM/IMG_1.jpg"),
		},
	}

	inv, err := NewRemoteScanner(runner, ignore.New(".thumbnails/")).Scan(context.Background(), "/sdcard/DCIM")
	require.NoError(t, err)

	assert.NotContains(t, inv, ".thumbnails")
	assert.NotContains(t, inv, ".thumbnails/a.bin")
	assert.Contains(t, inv, "IMG_1.jpg")
}

func TestRemoteScanMalformedRecordAborts(t *testing.T) {
	runner := &fakeRunner{
		printfOK: true,
		records: []string{
			record("f", 10, "1700000000.0", "/sdcard/DCIM/ok.jpg"),
			"f\tnot-a-size\t1700000000.0\t/sdcard/DCIM/bad.jpg",
		},
	}

	_, err := NewRemoteScanner(runner, nil).Scan(context.Background(), "/sdcard/DCIM")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Record, "bad.jpg")
}

func TestRemoteScanPathOutsideRootAborts(t *testing.T) {
	runner := &fakeRunner{
		printfOK: true,
		records: []string{
			record("f", 10, "1700000000.0", "/elsewhere/file"),
		},
	}
	_, err := NewRemoteScanner(runner, nil).Scan(context.Background(), "/sdcard/DCIM")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestRemoteScanStatFallback(t *testing.T) {
	runner := &fakeRunner{
		printfOK: false,
		findOut:  "/sdcard/DCIM\n/sdcard/DCIM/Camera\n/sdcard/DCIM/Camera/IMG_1.jpg\n/sdcard/DCIM/empty.bin\n",
		statOut: map[string]string{
			"'/sdcard/DCIM'": "directory\t4096\t1700000000\t/sdcard/DCIM\n" +
				"directory\t4096\t1700000001\t/sdcard/DCIM/Camera\n" +
				"regular file\t12345\t1700000100\t/sdcard/DCIM/Camera/IMG_1.jpg\n" +
				"regular empty file\t0\t1700000200\t/sdcard/DCIM/empty.bin\n",
		},
	}

	inv, err := NewRemoteScanner(runner, nil).Scan(context.Background(), "/sdcard/DCIM")
	require.NoError(t, err)
	require.Len(t, inv, 3)

	assert.Equal(t, KindDir, inv["Camera"].Kind)
	assert.Equal(t, int64(12345), inv["Camera/IMG_1.jpg"].Size)
	assert.Equal(t, KindFile, inv["empty.bin"].Kind)
}

func TestRemoteScanUnsupportedDevice(t *testing.T) {
	runner := &fakeRunner{
		printfOK: false,
		findOut:  "/sdcard/DCIM\n/sdcard/DCIM/a.jpg\n",
		statOut:  map[string]string{}, // stat always fails
	}

	_, err := NewRemoteScanner(runner, nil).Scan(context.Background(), "/sdcard/DCIM")
	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
}

func TestParseFindRecord(t *testing.T) {
	rec, err := parseFindRecord("f\t100\t1700000000.25\t/root/a\tb", "/root")
	require.NoError(t, err)
	assert.Equal(t, "a\tb", rec.Path, "tabs in the filename stay intact")
	assert.Equal(t, int64(100), rec.Size)

	_, err = parseFindRecord("f\t100\t1700000000.25", "/root")
	assert.Error(t, err)

	_, err = parseFindRecord("ff\t100\t1700000000\t/root/a", "/root")
	assert.Error(t, err)
}

func TestRelativeTo(t *testing.T) {
	rel, err := relativeTo("/sdcard/DCIM/a/b", "/sdcard/DCIM")
	require.NoError(t, err)
	assert.Equal(t, "a/b", rel)

	rel, err = relativeTo("/sdcard/DCIM", "/sdcard/DCIM")
	require.NoError(t, err)
	assert.Empty(t, rel)

	rel, err = relativeTo("/a", "/")
	require.NoError(t, err)
	assert.Equal(t, "a", rel)

	_, err = relativeTo("/sdcard/DCIMx/a", "/sdcard/DCIM")
	assert.Error(t, err)
}

func TestStatKind(t *testing.T) {
	assert.Equal(t, KindFile, statKind("regular file"))
	assert.Equal(t, KindFile, statKind("regular empty file"))
	assert.Equal(t, KindDir, statKind("directory"))
	assert.Equal(t, KindSymlink, statKind("symbolic link"))
	assert.Equal(t, KindOther, statKind("character special file"))
}

func TestScanRecordsCallbackErrorPropagates(t *testing.T) {
	runner := &fakeRunner{printfOK: true, records: []string{"garbage"}}
	_, err := NewRemoteScanner(runner, nil).Scan(context.Background(), "/sdcard")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
