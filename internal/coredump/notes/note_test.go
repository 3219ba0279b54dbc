package notes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildElfNoteEmptyNameUsesZeroNamesz(t *testing.T) {
	note := BuildElfNote("", []byte{}, 0)
	// header only: namesz=0, descsz=0, type=0
	assert.Len(t, note, nhdrSize)
}

func TestBuildElfNoteRoundTripsThroughIterator(t *testing.T) {
	desc := []byte("hello world")
	note := BuildElfNote(NameCORE, desc, NTPRStatus)

	it := NewIterator(note)
	parsed, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, NameCORE, parsed.Name)
	assert.EqualValues(t, NTPRStatus, parsed.Type)
	assert.Equal(t, desc, parsed.Description)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestIteratorWalksMultipleNotes(t *testing.T) {
	a := BuildElfNote(NameCORE, []byte("a"), 1)
	b := BuildElfNote(NameGNU, []byte("bb"), 2)
	buf := append(append([]byte{}, a...), b...)

	it := NewIterator(buf)
	first, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, NameCORE, first.Name)

	second, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, NameGNU, second.Name)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestIteratorStopsOnTruncatedNote(t *testing.T) {
	full := BuildElfNote(NameCORE, []byte("payload"), 1)
	truncated := full[:len(full)-2]

	it := NewIterator(truncated)
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestParseFileNoteDecodesMappedFiles(t *testing.T) {
	desc := buildFileNote(t, []fileEntry{
		{start: 0x1000, end: 0x2000, fileOfs: 0, path: "/usr/bin/app"},
		{start: 0x2000, end: 0x3000, fileOfs: 0x1000, path: "/lib/libc.so"},
	}, 4096)

	parsed, err := ParseFileNote(desc)
	require.NoError(t, err)
	assert.False(t, parsed.Incomplete)
	assert.EqualValues(t, 4096, parsed.PageSize)
	require.Len(t, parsed.MappedFiles, 2)
	assert.Equal(t, "/usr/bin/app", parsed.MappedFiles[0].Path)
	assert.EqualValues(t, 0x1000, parsed.MappedFiles[0].StartAddr)
	assert.Equal(t, "/lib/libc.so", parsed.MappedFiles[1].Path)
}

type fileEntry struct {
	start, end, fileOfs uint64
	path                string
}

func buildFileNote(t *testing.T, entries []fileEntry, pageSize uint64) []byte {
	t.Helper()
	var buf []byte
	putU64 := func(v uint64) {
		b := make([]byte, 8)
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
		buf = append(buf, b...)
	}
	putU64(uint64(len(entries)))
	putU64(pageSize)
	for _, e := range entries {
		putU64(e.start)
		putU64(e.end)
		putU64(e.fileOfs)
	}
	for _, e := range entries {
		buf = append(buf, []byte(e.path)...)
		buf = append(buf, 0)
	}
	return buf
}
