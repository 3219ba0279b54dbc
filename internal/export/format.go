package export

import (
	"fmt"
	"strings"
)

// Format is the wire shape a client asked for via the Accept header.
type Format int

const (
	// FormatZip streams the bundle as a plain ZIP archive.
	FormatZip Format = iota
	// FormatChunk wraps the ZIP bytes in a one-byte version tag. The real
	// chunk-framing protocol used by constrained transports is out of
	// scope here; this is an opaque envelope a capable client can peel
	// off, not a faithful reimplementation of that protocol.
	FormatChunk
	// FormatChunkWrapped wraps a FormatChunk envelope in one more version
	// tag, mirroring the double-wrapping the original protocol applies
	// for some transports.
	FormatChunkWrapped
)

const (
	contentTypeZip          = "application/zip"
	contentTypeChunk        = "application/vnd.memfault.chunk"
	contentTypeChunkWrapped = "application/vnd.memfault.chunk-wrapped"
)

func (f Format) contentType() string {
	switch f {
	case FormatChunk:
		return contentTypeChunk
	case FormatChunkWrapped:
		return contentTypeChunkWrapped
	default:
		return contentTypeZip
	}
}

// parseAcceptHeader picks the first value in an Accept header's
// comma-separated list that names a format this endpoint supports. A
// missing header defaults to FormatZip; a header naming only unsupported
// types is reported as an error so the caller can answer 406.
func parseAcceptHeader(value string) (Format, error) {
	if value == "" {
		return FormatZip, nil
	}
	for _, part := range strings.Split(value, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch mediaType {
		case contentTypeZip, "*/*":
			return FormatZip, nil
		case contentTypeChunk:
			return FormatChunk, nil
		case contentTypeChunkWrapped:
			return FormatChunkWrapped, nil
		}
	}
	return FormatZip, fmt.Errorf("no supported format in Accept header %q", value)
}
