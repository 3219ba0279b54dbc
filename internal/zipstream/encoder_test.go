package zipstream

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, files []*EntryInfo) (*zip.Reader, *Encoder) {
	t.Helper()
	enc, err := NewEncoder(files)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := io.Copy(&buf, enc)
	require.NoError(t, err)

	assert.EqualValues(t, enc.Len(), n)
	assert.EqualValues(t, enc.Len(), buf.Len())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	return zr, enc
}

func TestEmptyArchive(t *testing.T) {
	zr, enc := roundTrip(t, nil)
	assert.Empty(t, zr.File)
	assert.EqualValues(t, streamLenEmpty(), enc.Len())
}

func TestBasicArchiveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	contents := map[string]string{
		"hello.txt": "Hello World",
		"bye.txt":   "Goodbye",
	}
	var files []*EntryInfo
	for name, body := range contents {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		info, err := NewEntryInfo(path, dir)
		require.NoError(t, err)
		files = append(files, info)
	}

	zr, enc := roundTrip(t, files)
	assert.Len(t, zr.File, len(contents))

	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, contents[zf.Name], string(data))
	}
	_ = enc
}

func TestNewEncoderRejectsTooManyEntries(t *testing.T) {
	files := make([]*EntryInfo, MaxEntries+1)
	for i := range files {
		files[i] = &EntryInfo{Name: []byte("f"), Size: 0}
	}
	_, err := NewEncoder(files)
	require.Error(t, err)
}

func TestNewEncoderAcceptsExactlyMaxEntries(t *testing.T) {
	files := make([]*EntryInfo, MaxEntries)
	for i := range files {
		files[i] = &EntryInfo{Name: []byte("f"), Size: 0}
	}
	_, err := NewEncoder(files)
	require.NoError(t, err)
}

func TestNewEntryInfoRejectsOversizeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxEntrySize+1))
	require.NoError(t, f.Close())

	_, err = NewEntryInfo(path, dir)
	require.Error(t, err)
}

func TestStreamLenMatchesHeaderAndDescriptorMath(t *testing.T) {
	info := &EntryInfo{Name: []byte("a.txt"), Size: 11}
	got := streamLenForFile(info)
	want := (localFileHeaderSize + len(info.Name)) + int(info.Size) + dataDescriptorSize + (directoryHeaderSize + len(info.Name))
	assert.Equal(t, want, got)
}
