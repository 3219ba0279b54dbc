package notes

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Memfault-specific note name and type values. The name carries a
// trailing NUL the same way the kernel's own "CORE"/"GNU" note names do
// not, matching what every captured core this agent produces actually
// writes to disk.
const (
	MemfaultNoteName = "Memfault\x00"

	MetadataNoteType  = 0x4154454d
	DebugDataNoteType = 0x4154454e

	metadataSchemaVersionV1  = 1
	debugDataSchemaVersionV1 = 1
)

// MetadataLogs carries a handful of application log lines captured
// alongside a coredump, for the small minority of strategies that choose
// to embed them.
type MetadataLogs struct {
	Logs   []string `cbor:"1,keyasint"`
	Format string   `cbor:"2,keyasint"`
}

// Metadata describes the device and process a coredump was captured
// from; it is what associates an uploaded core with a device in the
// backend. Encoded with integer CBOR keys to keep the note small.
type Metadata struct {
	SchemaVersion   uint32        `cbor:"1,keyasint"`
	SDKVersion      string        `cbor:"2,keyasint"`
	CapturedTimeS   uint64        `cbor:"3,keyasint"`
	DeviceSerial    string        `cbor:"4,keyasint"`
	HardwareVersion string        `cbor:"5,keyasint"`
	SoftwareType    string        `cbor:"6,keyasint"`
	SoftwareVersion string        `cbor:"7,keyasint"`
	CmdLine         string        `cbor:"8,keyasint"`
	CaptureStrategy string        `cbor:"9,keyasint"`
	AppLogs         *MetadataLogs `cbor:"10,keyasint,omitempty"`
}

// NewMetadata fills in a Metadata with the given device/process facts and
// the current time.
func NewMetadata(sdkVersion, deviceSerial, hardwareVersion, softwareType, softwareVersion, cmdLine, captureStrategy string) Metadata {
	return Metadata{
		SchemaVersion:   metadataSchemaVersionV1,
		SDKVersion:      sdkVersion,
		CapturedTimeS:   uint64(time.Now().Unix()),
		DeviceSerial:    deviceSerial,
		HardwareVersion: hardwareVersion,
		SoftwareType:    softwareType,
		SoftwareVersion: softwareVersion,
		CmdLine:         cmdLine,
		CaptureStrategy: captureStrategy,
	}
}

// BuildMetadataNote CBOR-encodes metadata and wraps it in an ELF note.
func BuildMetadataNote(metadata Metadata) ([]byte, error) {
	description, err := cbor.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return BuildElfNote(MemfaultNoteName, description, MetadataNoteType), nil
}

// DebugData carries the warnings/errors logged during coredump capture,
// so the backend can help diagnose capture-time problems.
type DebugData struct {
	SchemaVersion uint32   `cbor:"schema_version"`
	CaptureLogs   []string `cbor:"capture_logs"`
}

// BuildDebugDataNote CBOR-encodes the capture-time log lines and wraps
// them in an ELF note.
func BuildDebugDataNote(captureLogs []string) ([]byte, error) {
	data := DebugData{SchemaVersion: debugDataSchemaVersionV1, CaptureLogs: captureLogs}
	description, err := cbor.Marshal(data)
	if err != nil {
		return nil, err
	}
	return BuildElfNote(MemfaultNoteName, description, DebugDataNoteType), nil
}
