package export

import (
	"bytes"
	"io"

	"github.com/memfault/memfaultd-go/internal/zipstream"
)

// envelopeVersion tags the opaque chunk envelopes below so a future,
// protocol-aware reader can at least recognize the wrapping generation.
const envelopeVersion byte = 1

// body builds the reader and precomputed length for format over zipInfos.
// FormatZip streams the archive directly; the chunk formats prepend one or
// two one-byte version tags ahead of the same archive bytes.
func body(zipInfos []*zipstream.EntryInfo, format Format) (io.Reader, uint64, error) {
	enc, err := zipstream.NewEncoder(zipInfos)
	if err != nil {
		return nil, 0, err
	}
	archiveLen := enc.Len()

	switch format {
	case FormatChunk:
		header := []byte{envelopeVersion}
		return io.MultiReader(bytes.NewReader(header), enc), uint64(len(header)) + archiveLen, nil
	case FormatChunkWrapped:
		header := []byte{envelopeVersion, envelopeVersion}
		return io.MultiReader(bytes.NewReader(header), enc), uint64(len(header)) + archiveLen, nil
	default:
		return enc, archiveLen, nil
	}
}
