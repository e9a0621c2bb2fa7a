package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chen3feng/android-backup/internal/ignore"
)

const deviceRoot = "/sdcard/DCIM"

func pull(t *testing.T, opts Options) Result {
	t.Helper()
	result := Pull(context.Background(), opts)
	require.NoError(t, result.Err)
	return result
}

func TestPullEmptyRemote(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeDir(t, device.dir, "a")
	local := t.TempDir()

	pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local})

	info, err := os.Stat(filepath.Join(local, "a"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(local)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPullTransfersOnlyChangedFiles(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "x.jpg", "old-x-content-x", 1700000000)
	writeFile(t, device.dir, "y.jpg", "new-y-content-longer", 1700000500)

	local := t.TempDir()
	writeFile(t, local, "x.jpg", "old-x-content-x", 1700000000)
	writeFile(t, local, "y.jpg", "stale-y", 1700000100)

	result := pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local})

	assert.Equal(t, int64(1), result.Stats.FilesPulled)
	assert.Equal(t, int64(1), result.Stats.FilesSkipped)
	assert.Equal(t, "new-y-content-longer", readFile(t, local, "y.jpg"))

	info, err := os.Stat(filepath.Join(local, "y.jpg"))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000500), info.ModTime().Unix())
}

func TestPullModTimeWindowTolerates2Seconds(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "x.jpg", "same-content", 1700000002)

	local := t.TempDir()
	writeFile(t, local, "x.jpg", "same-content", 1700000000)

	result := pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local})

	assert.Zero(t, result.Stats.FilesPulled)
	assert.Equal(t, int64(1), result.Stats.FilesSkipped)
}

func TestPullLinksFromReference(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "photo.jpg", "photo-bytes", 1700000000)

	reference := t.TempDir()
	writeFile(t, reference, "photo.jpg", "photo-bytes", 1700000000)
	local := t.TempDir()

	result := pull(t, Options{
		Transport:     device,
		RemoteRoot:    deviceRoot,
		LocalRoot:     local,
		ReferenceRoot: reference,
	})

	assert.Equal(t, int64(1), result.Stats.FilesLinked+result.Stats.FilesCopied)
	assert.Zero(t, result.Stats.FilesPulled)

	if result.Stats.FilesLinked == 1 {
		refInfo, err := os.Stat(filepath.Join(reference, "photo.jpg"))
		require.NoError(t, err)
		localInfo, err := os.Stat(filepath.Join(local, "photo.jpg"))
		require.NoError(t, err)
		assert.True(t, os.SameFile(refInfo, localInfo), "linked file should share the inode")
	}
}

func TestPullHonorsExcludes(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, ".thumbnails/a.bin", "thumb", 1700000000)
	writeFile(t, device.dir, "IMG_1.jpg", "image", 1700000000)
	local := t.TempDir()

	result := pull(t, Options{
		Transport:  device,
		RemoteRoot: deviceRoot,
		LocalRoot:  local,
		Excludes:   ignore.New(".thumbnails/"),
	})

	assert.Equal(t, int64(1), result.Stats.FilesPulled)
	assert.Equal(t, "image", readFile(t, local, "IMG_1.jpg"))
	_, err := os.Stat(filepath.Join(local, ".thumbnails"))
	assert.True(t, os.IsNotExist(err), ".thumbnails must never be created")
}

func TestPullExcludedLocalFileSurvivesDelete(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "keep.txt", "keep", 1700000000)

	local := t.TempDir()
	writeFile(t, local, "notes.local", "mine", 1600000000)

	pull(t, Options{
		Transport:  device,
		RemoteRoot: deviceRoot,
		LocalRoot:  local,
		Delete:     true,
		Excludes:   ignore.New("*.local"),
	})

	assert.Equal(t, "mine", readFile(t, local, "notes.local"))
}

func TestPullDeleteExtraneous(t *testing.T) {
	for _, doDelete := range []bool{true, false} {
		device := newFakeTransport(t, deviceRoot)
		writeFile(t, device.dir, "current.txt", "current", 1700000000)

		local := t.TempDir()
		writeFile(t, local, "old.txt", "old", 1600000000)

		result := pull(t, Options{
			Transport:  device,
			RemoteRoot: deviceRoot,
			LocalRoot:  local,
			Delete:     doDelete,
		})

		_, err := os.Stat(filepath.Join(local, "old.txt"))
		if doDelete {
			assert.True(t, os.IsNotExist(err))
			assert.Equal(t, int64(1), result.Stats.FilesDeleted)
		} else {
			assert.NoError(t, err)
			assert.Zero(t, result.Stats.FilesDeleted)
		}
	}
}

func TestPullIdempotent(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "a.txt", "aaa", 1700000000)
	writeFile(t, device.dir, "sub/b.txt", "bbbb", 1700000100)
	writeDir(t, device.dir, "empty")
	local := t.TempDir()

	first := pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local, Delete: true})
	assert.Equal(t, int64(2), first.Stats.FilesPulled)

	second := pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local, Delete: true})
	assert.Zero(t, second.Stats.FilesPulled)
	assert.Zero(t, second.Stats.FilesLinked)
	assert.Zero(t, second.Stats.FilesCopied)
	assert.Zero(t, second.Stats.FilesDeleted)
	assert.Equal(t, int64(2), second.Stats.FilesSkipped)
}

func TestPullRetriesTransientFailures(t *testing.T) {
	restore := retryBackoff
	retryBackoff = []time.Duration{0, 0, 0}
	defer func() { retryBackoff = restore }()

	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "big.bin", "big-file-content", 1700000000)
	device.failPull("big.bin", 2)
	local := t.TempDir()

	result := pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local})

	assert.Equal(t, int64(1), result.Stats.FilesPulled)
	assert.Empty(t, result.Failures)
	assert.Equal(t, "big-file-content", readFile(t, local, "big.bin"))
	assert.Empty(t, listStaging(t, local))
}

func TestPullRecordsFailuresAndContinues(t *testing.T) {
	restore := retryBackoff
	retryBackoff = []time.Duration{0}
	defer func() { retryBackoff = restore }()

	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "bad.bin", "unreachable", 1700000000)
	writeFile(t, device.dir, "good.txt", "fine", 1700000000)
	device.failPull("bad.bin", 10) // more than the retry budget
	local := t.TempDir()

	result := Pull(context.Background(), Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local})
	require.NoError(t, result.Err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "bad.bin", result.Failures[0].Path)
	assert.Equal(t, int64(1), result.Stats.FilesPulled)
	assert.Equal(t, "fine", readFile(t, local, "good.txt"))
	assert.Empty(t, listStaging(t, local))
}

func TestPullDryRunTouchesNothing(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "a.txt", "aaa", 1700000000)
	local := t.TempDir()

	result := pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local, DryRun: true})

	assert.Zero(t, result.Stats.FilesPulled)
	assert.Zero(t, device.pullCount())
	_, err := os.Stat(filepath.Join(local, "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestPullSweepsStaleStaging(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "a.txt", "aaa", 1700000000)

	local := t.TempDir()
	stale := filepath.Join(local, StagingName("a.txt"))
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	pull(t, Options{Transport: device, RemoteRoot: deviceRoot, LocalRoot: local})

	assert.Empty(t, listStaging(t, local))
	assert.Equal(t, "aaa", readFile(t, local, "a.txt"))
}

func TestPullRejectsRelativeRemoteRoot(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	result := Pull(context.Background(), Options{Transport: device, RemoteRoot: "sdcard", LocalRoot: t.TempDir()})
	require.Error(t, result.Err)
}

func TestPullReferenceEqualToTargetIsIgnored(t *testing.T) {
	device := newFakeTransport(t, deviceRoot)
	writeFile(t, device.dir, "a.txt", "aaa", 1700000000)
	local := t.TempDir()

	result := pull(t, Options{
		Transport:     device,
		RemoteRoot:    deviceRoot,
		LocalRoot:     local,
		ReferenceRoot: local,
	})

	assert.Equal(t, int64(1), result.Stats.FilesPulled)
	assert.Zero(t, result.Stats.FilesLinked)
}
