package asa

import (
	"time"

	"github.com/google/uuid"
)

// ManifestSchemaVersion is bumped whenever the on-disk manifest shape
// changes in a way a reader needs to branch on.
const ManifestSchemaVersion = 1

// CollectionTime captures every clock reading taken when an entry is
// created, since wall clock alone cannot distinguish "device was off" from
// "device clock jumped" when reconciling against a backend timeline.
type CollectionTime struct {
	Timestamp        time.Time `json:"timestamp"`
	UptimeMs         int64     `json:"uptime_ms"`
	BoottimeUptimeMs int64     `json:"boottime_uptime_ms"`
	LinuxBootID      string    `json:"linux_boot_id"`
}

// DeviceIdentity is the set of fields a backend needs to attribute an
// artifact to a specific device and software build.
type DeviceIdentity struct {
	ProjectKey      string `json:"project_key"`
	DeviceSerial    string `json:"device_serial"`
	HardwareVersion string `json:"hardware_version"`
	SoftwareType    string `json:"software_type"`
	SoftwareVersion string `json:"software_version"`
}

// ProducerIdentity names the agent build that wrote the entry.
type ProducerIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MetadataKind discriminates the tagged Metadata payload.
type MetadataKind string

const (
	KindLinuxLogs        MetadataKind = "linux-logs"
	KindDeviceAttributes MetadataKind = "device-attributes"
	KindDeviceConfig     MetadataKind = "device-config"
	KindElfCoredump      MetadataKind = "elf-coredump"
	KindLinuxReboot      MetadataKind = "linux-reboot"
	KindLinuxHeartbeat   MetadataKind = "linux-heartbeat" // deprecated
	KindLinuxMetricReport MetadataKind = "linux-metric-report"
)

// Metadata is the tagged payload carried by a manifest. Exactly one of the
// typed fields is populated, matching Kind. linux-logs and elf-coredump
// additionally reference an attachment by filename.
type Metadata struct {
	Kind MetadataKind `json:"type"`

	AttachmentFilename string `json:"attachment_filename,omitempty"`
	CompressionTag     string `json:"compression,omitempty"` // "none", "gzip", "zlib"

	LinuxLogs        *LinuxLogsPayload        `json:"linux-logs,omitempty"`
	DeviceAttributes *DeviceAttributesPayload `json:"device-attributes,omitempty"`
	DeviceConfig     *DeviceConfigPayload     `json:"device-config,omitempty"`
	ElfCoredump      *ElfCoredumpPayload      `json:"elf-coredump,omitempty"`
	LinuxReboot      *LinuxRebootPayload      `json:"linux-reboot,omitempty"`
	LinuxHeartbeat   *LinuxHeartbeatPayload   `json:"linux-heartbeat,omitempty"`
	LinuxMetricReport *LinuxMetricReportPayload `json:"linux-metric-report,omitempty"`
}

// LinuxLogsPayload describes a rotated/compressed log attachment.
type LinuxLogsPayload struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	CidBegin  string    `json:"cid_begin"`
	CidEnd    string    `json:"cid_end,omitempty"`
	NextCid   string    `json:"next_cid,omitempty"`
}

// DeviceAttributesPayload carries a flat set of key/value attributes.
type DeviceAttributesPayload struct {
	Attributes map[string]interface{} `json:"attributes"`
}

// DeviceConfigPayload records the device config revision observed.
type DeviceConfigPayload struct {
	Revision string `json:"revision"`
}

// ElfCoredumpPayload describes a captured, compressed core.
type ElfCoredumpPayload struct {
	CaptureStrategy string `json:"capture_strategy"`
}

// LinuxRebootPayload carries the reboot reason classification.
type LinuxRebootPayload struct {
	Reason      string `json:"reason"`
	LastBootID  string `json:"last_boot_id"`
}

// LinuxHeartbeatPayload is the deprecated all-metrics heartbeat body.
type LinuxHeartbeatPayload struct {
	Metrics map[string]interface{} `json:"metrics"`
}

// LinuxMetricReportPayload is a named report's aggregated series.
type LinuxMetricReportPayload struct {
	ReportType string                 `json:"report_type"`
	Duration   int64                  `json:"duration_ms"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time"`
	Metrics    map[string]interface{} `json:"metrics"`
}

// Manifest is the structured record written to manifest.json.
type Manifest struct {
	SchemaVersion    int              `json:"schema_version"`
	CollectionTime   CollectionTime   `json:"collection_time"`
	DeviceIdentity   DeviceIdentity   `json:"device_identity"`
	ProducerIdentity ProducerIdentity `json:"producer_identity"`
	Metadata         Metadata         `json:"metadata"`
}

// NewManifest stamps a manifest with the current schema version.
func NewManifest(ct CollectionTime, device DeviceIdentity, producer ProducerIdentity, metadata Metadata) Manifest {
	return Manifest{
		SchemaVersion:    ManifestSchemaVersion,
		CollectionTime:   ct,
		DeviceIdentity:   device,
		ProducerIdentity: producer,
		Metadata:         metadata,
	}
}

// NewUUID returns a fresh v4 UUID string for naming a new entry directory.
func NewUUID() string {
	return uuid.New().String()
}
