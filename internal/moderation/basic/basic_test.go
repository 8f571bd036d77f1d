package basic

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeywords(t *testing.T, path string, lines ...string) {
	t.Helper()

	content := ""
	for _, l := range lines {
		content += l + "\n"
	}

	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFilter_CheckMatchesCaseInsensitiveSubstring(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.txt")
	writeKeywords(t, path, "# comment", "", "badword", "otherbad")

	f := NewFilter(path)

	res, err := f.Check("this message contains BadWord in the middle")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, "badword", res.Keyword)
}

func TestFilter_CheckPassesWhenNoKeywordMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.txt")
	writeKeywords(t, path, "badword")

	f := NewFilter(path)

	res, err := f.Check("a perfectly fine message")
	require.NoError(t, err)
	assert.False(t, res.Blocked)
}

func TestFilter_MissingFileIsEmptyKeywordSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.txt")

	f := NewFilter(path)

	res, err := f.Check("anything at all")
	require.NoError(t, err)
	assert.False(t, res.Blocked)
}

func TestFilter_HotReloadsOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.txt")
	writeKeywords(t, path, "first")

	f := NewFilter(path)

	res, err := f.Check("contains first keyword")
	require.NoError(t, err)
	assert.True(t, res.Blocked)

	// Advance mtime explicitly so the reload is deterministic regardless of
	// filesystem timestamp resolution.
	future := time.Now().Add(time.Second)
	writeKeywords(t, path, "second")
	require.NoError(t, os.Chtimes(path, future, future))

	res, err = f.Check("contains first keyword")
	require.NoError(t, err)
	assert.False(t, res.Blocked, "stale keyword must not match after reload")

	res, err = f.Check("contains second keyword")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, "second", res.Keyword)
}

func TestForPath_SharesFilterAcrossCallers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.txt")
	writeKeywords(t, path, "shared")

	a := ForPath(path)
	b := ForPath(path)

	assert.Same(t, a, b)
}
