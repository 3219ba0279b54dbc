package rotation

import (
	"compress/zlib"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func readZlibFile(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zlib.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func TestWriteLogsToDisk(t *testing.T) {
	dir := t.TempDir()
	var completions int
	c, err := Open(dir, "start-cid", 1024, time.Hour, 6, func(CompletedLog) error {
		completions++
		return nil
	}, nil)
	require.NoError(t, err)

	lf, err := c.CurrentLog()
	require.NoError(t, err)
	require.NoError(t, lf.WriteJSONLine(time.Now(), map[string]interface{}{"MESSAGE": "xxx"}))
	require.NoError(t, lf.Flush())

	assert.Equal(t, 1, countFiles(t, dir))
	assert.Equal(t, 0, completions)
}

func TestCloseOfNonEmptyLogPromotesItWithoutOpeningANewFile(t *testing.T) {
	dir := t.TempDir()
	var completed []CompletedLog
	c, err := Open(dir, "start-cid", 1024, time.Hour, 6, func(cl CompletedLog) error {
		completed = append(completed, cl)
		return os.Remove(cl.Path)
	}, nil)
	require.NoError(t, err)

	lf, err := c.CurrentLog()
	require.NoError(t, err)
	require.NoError(t, lf.WriteJSONLine(time.Now(), map[string]interface{}{"MESSAGE": "xxx"}))

	require.NoError(t, c.Close())

	assert.Equal(t, 0, countFiles(t, dir))
	require.Len(t, completed, 1)
	assert.Equal(t, "start-cid", completed[0].Cid)
}

func TestForcedRotationWithNonEmptyLogPromotesAndOpensReplacement(t *testing.T) {
	dir := t.TempDir()
	var completions int
	c, err := Open(dir, "start-cid", 1024, time.Hour, 6, func(cl CompletedLog) error {
		completions++
		return os.Remove(cl.Path)
	}, nil)
	require.NoError(t, err)

	lf, err := c.CurrentLog()
	require.NoError(t, err)
	require.NoError(t, lf.WriteJSONLine(time.Now(), map[string]interface{}{"MESSAGE": "xxx"}))

	rotated, err := c.RotateUnlessEmpty()
	require.NoError(t, err)
	assert.True(t, rotated)

	assert.Equal(t, 1, completions)
	assert.Equal(t, 1, countFiles(t, dir))
}

func TestForcedRotationWithEmptyLogDoesNothing(t *testing.T) {
	dir := t.TempDir()
	var completions int
	c, err := Open(dir, "start-cid", 1024, time.Hour, 6, func(CompletedLog) error {
		completions++
		return nil
	}, nil)
	require.NoError(t, err)

	rotated, err := c.RotateUnlessEmpty()
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, 0, completions)
	assert.Equal(t, 1, countFiles(t, dir))
}

func TestDeletesOldLogWhenCompletionCallbackFails(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "start-cid", 1024, time.Hour, 6, func(CompletedLog) error {
		return errors.New("failed to move file")
	}, nil)
	require.NoError(t, err)

	lf, err := c.CurrentLog()
	require.NoError(t, err)
	require.NoError(t, lf.WriteJSONLine(time.Now(), map[string]interface{}{"MESSAGE": "xxx"}))

	rotated, err := c.RotateUnlessEmpty()
	require.NoError(t, err)
	assert.True(t, rotated)

	// Old log removed despite the failed callback; only the new file remains.
	assert.Equal(t, 1, countFiles(t, dir))
}

func TestRotateIfNeededRotatesPastSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	var completions int
	c, err := Open(dir, "start-cid", 10, time.Hour, 6, func(CompletedLog) error {
		completions++
		return os.Remove(filepath.Join(dir, "start-cid.log.zlib"))
	}, nil)
	require.NoError(t, err)

	lf, err := c.CurrentLog()
	require.NoError(t, err)
	require.NoError(t, lf.WriteJSONLine(time.Now(), map[string]interface{}{"MESSAGE": "a message long enough to exceed the threshold"}))

	rotated, err := c.RotateIfNeeded()
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Equal(t, 1, completions)
}

func TestRotateIfNeededRotatesPastAgeThreshold(t *testing.T) {
	dir := t.TempDir()
	var completions int
	c, err := Open(dir, "start-cid", 1<<20, -time.Second, 6, func(CompletedLog) error {
		completions++
		return os.Remove(filepath.Join(dir, "start-cid.log.zlib"))
	}, nil)
	require.NoError(t, err)

	rotated, err := c.RotateIfNeeded()
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Equal(t, 1, completions)
}

func TestWriteJSONLineRoundTripsThroughZlib(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "start-cid", 1024, time.Hour, 6, func(CompletedLog) error { return nil }, nil)
	require.NoError(t, err)

	lf, err := c.CurrentLog()
	require.NoError(t, err)
	require.NoError(t, lf.WriteJSONLine(time.Now(), map[string]interface{}{"MESSAGE": "hello"}))
	require.NoError(t, c.Close())

	contents := readZlibFile(t, filepath.Join(dir, "start-cid.log.zlib"))
	assert.Contains(t, contents, "hello")
}
