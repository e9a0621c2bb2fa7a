package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilAndEmptyRuleSets(t *testing.T) {
	var nilSet *RuleSet
	assert.False(t, nilSet.Match("anything", false))
	assert.True(t, nilSet.Empty())

	empty := New()
	assert.False(t, empty.Match("anything", false))
	assert.True(t, empty.Empty())
}

func TestWildcardPatterns(t *testing.T) {
	r := New("*.log", "cache")

	assert.True(t, r.Match("app.log", false))
	assert.True(t, r.Match("sub/deep/app.log", false))
	assert.False(t, r.Match("app.txt", false))

	// A bare name matches at any depth, files and directories alike.
	assert.True(t, r.Match("cache", true))
	assert.True(t, r.Match("a/b/cache", true))
}

func TestDirectoryOnlyPattern(t *testing.T) {
	r := New(".thumbnails/")

	assert.True(t, r.Match(".thumbnails", true))
	assert.True(t, r.Match("DCIM/.thumbnails", true))
	assert.False(t, r.Match(".thumbnails", false), "a plain file of that name is kept")
}

func TestAnchoredPattern(t *testing.T) {
	r := New("/top.txt")

	assert.True(t, r.Match("top.txt", false))
	assert.False(t, r.Match("sub/top.txt", false))
}

func TestNegationOverridesEarlierMatch(t *testing.T) {
	r := New("*.log", "!important.log")

	assert.True(t, r.Match("debug.log", false))
	assert.False(t, r.Match("important.log", false))
}

func TestDoubleStarCrossesSegments(t *testing.T) {
	r := New("**/generated/*.bin")

	assert.True(t, r.Match("generated/a.bin", false))
	assert.True(t, r.Match("x/y/generated/a.bin", false))
	assert.False(t, r.Match("generated/sub/a.bin", false))
}

func TestStarDoesNotCrossSlash(t *testing.T) {
	r := New("/a/*.jpg")

	assert.True(t, r.Match("a/x.jpg", false))
	assert.False(t, r.Match("a/b/x.jpg", false))
}

func TestAddAppends(t *testing.T) {
	r := New("*.log")
	r.Add("!keep.log", "", "# a comment")

	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Match("keep.log", false))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "excludes")
	content := "# thumbnails are regenerated on device\n.thumbnails/\n\n*.tmp\n!pinned.tmp\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	assert.True(t, r.Match("DCIM/.thumbnails", true))
	assert.True(t, r.Match("x.tmp", false))
	assert.False(t, r.Match("pinned.tmp", false))
	assert.False(t, r.Match("photo.jpg", false))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestPatternsRoundTrip(t *testing.T) {
	r := New("a", "b")
	assert.Equal(t, []string{"a", "b"}, r.Patterns())
}
