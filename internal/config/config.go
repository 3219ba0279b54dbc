// Package config defines the agent's configuration structs. Parsing and
// merging the on-device config file (and any CLI overrides) is an external
// collaborator's job; this package only owns the shape the core consumes
// and a set of sane defaults, matching the boundary in the agent's
// specification of external interfaces.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// AgentConfig is the complete configuration surface consumed by the core.
type AgentConfig struct {
	Global   GlobalConfig   `yaml:"global"`
	Disk     DiskConfig     `yaml:"disk"`
	Upload   UploadConfig   `yaml:"upload"`
	Coredump CoredumpConfig `yaml:"coredump"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logs     LogsConfig     `yaml:"logs"`
	Reboot   RebootConfig   `yaml:"reboot"`
	Export   ExportConfig   `yaml:"export"`
	SysMetrics SysMetricsConfig `yaml:"system_metrics"`
	SessionAPI SessionAPIConfig `yaml:"session_api"`
}

// GlobalConfig carries device identity and the scheduler's timing knobs.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "text" or "json"
	LogFile     string `yaml:"log_file"`   // empty means stdout

	ProjectKey      string `yaml:"project_key"`
	DeviceSerial    string `yaml:"device_serial"`
	HardwareVersion string `yaml:"hardware_version"`
	SoftwareType    string `yaml:"software_type"`
	SoftwareVersion string `yaml:"software_version"`

	ProducerName    string `yaml:"producer_name"`
	ProducerVersion string `yaml:"producer_version"`

	UploadInterval              time.Duration `yaml:"upload_interval"`
	DeviceConfigRefreshInterval time.Duration `yaml:"device_config_refresh_interval"`

	DataCollectionEnabled bool `yaml:"data_collection_enabled"`
	DevModeEnabled        bool `yaml:"dev_mode_enabled"`
}

// DiskConfig bounds the artifact staging area (C1/C2).
type DiskConfig struct {
	StagingRoot string `yaml:"staging_root"`

	MaxTotalSizeBytes  int64 `yaml:"max_total_size_bytes"`
	MaxTotalSizeInodes int64 `yaml:"max_total_size_inodes"`

	MinHeadroomBytes  int64 `yaml:"min_headroom_bytes"`
	MinHeadroomInodes int64 `yaml:"min_headroom_inodes"`
}

// UploadConfig configures the three-call HTTPS upload protocol (C4).
type UploadConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	GzipEnabled      bool  `yaml:"gzip_enabled"`
	MaxBundleSizeB   int64 `yaml:"max_bundle_size_bytes"`

	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// CoredumpConfig configures the ELF coredump transformer (C5).
type CoredumpConfig struct {
	CaptureStrategy string `yaml:"capture_strategy"` // "kernel_selection" or "threads"
	MaxThreadSize   int64  `yaml:"max_thread_size_bytes"`
	SizeCapBytes    int64  `yaml:"size_cap_bytes"`
	Compression     string `yaml:"compression"` // "gzip" or "none"

	RateLimitCount  int           `yaml:"rate_limit_count"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	CapturedLogLines int `yaml:"captured_log_lines"`
}

// MetricsConfig configures the metric engine (C6).
type MetricsConfig struct {
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	DailyHeartbeatInterval time.Duration `yaml:"daily_heartbeat_interval"`

	// SessionCoreMetrics names additional metric keys appended to the
	// hardcoded core set every session captures regardless of its own
	// configuration.
	SessionCoreMetrics []string `yaml:"session_core_metrics"`
	// HistogramExpandKeys names additional metric keys that get "_min"/
	// "_max" companions expanded at snapshot time, alongside the
	// hardcoded set.
	HistogramExpandKeys []string `yaml:"histogram_expand_keys"`

	Sessions []SessionConfig `yaml:"sessions"`
}

// SessionConfig declares a named session a client may start via the
// session API, and the metric keys it captures beyond the mandatory core
// set.
type SessionConfig struct {
	Name            string   `yaml:"name"`
	CapturedMetrics []string `yaml:"captured_metrics"`
}

// LogsConfig configures log collection, rotation, and headroom (C7).
type LogsConfig struct {
	Sources []string `yaml:"sources"`

	TmpPath          string        `yaml:"tmp_path"`
	RotateSizeBytes  int64         `yaml:"rotate_size_bytes"`
	RotateAfter      time.Duration `yaml:"rotate_after"`
	MaxLinesPerMinute int          `yaml:"max_lines_per_minute"`
	MaxBackups       int           `yaml:"max_backups"`
	CompressOnRotate bool          `yaml:"compress_on_rotate"`

	MinHeadroomBytes  int64 `yaml:"min_headroom_bytes"`
	MinHeadroomInodes int64 `yaml:"min_headroom_inodes"`

	LogToMetricRules []LogToMetricRule `yaml:"log_to_metric_rules"`
}

// LogToMetricRule matches a regex against log lines and increments a counter.
type LogToMetricRule struct {
	Pattern          string `yaml:"pattern"`
	CounterName      string `yaml:"counter_name"`
	QuickRejectField string `yaml:"quick_reject_field"`
	QuickRejectValue string `yaml:"quick_reject_value"`
}

// RebootConfig configures reboot reason resolution (C8).
type RebootConfig struct {
	PstoreDir           string `yaml:"pstore_dir"`
	CustomReasonFile    string `yaml:"custom_reason_file"`
	InternalReasonFile  string `yaml:"internal_reason_file"`
	LastBootIDFile      string `yaml:"last_boot_id_file"`
}

// ExportConfig configures the local read-out endpoint (C10).
type ExportConfig struct {
	ListenAddress  string `yaml:"listen_address"`
	MaxBundleSizeB int64  `yaml:"max_bundle_size_bytes"`
}

// SysMetricsConfig configures the built-in system metric collectors
// dispatched every agent cycle.
type SysMetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// ProcessNames, when non-empty, switches the process collector from
	// auto mode (this agent only) to watching exactly these names.
	ProcessNames []string `yaml:"process_names"`

	ConnectivityTargets []ConnectivityTargetConfig `yaml:"connectivity_targets"`
	ConnectivityTimeout time.Duration              `yaml:"connectivity_timeout"`
}

// ConnectivityTargetConfig is one host:port pair the connectivity
// collector dials on each poll.
type ConnectivityTargetConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SessionAPIConfig configures the local session start/end HTTP endpoints.
type SessionAPIConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// DefaultConfig returns the agent's default configuration.
func DefaultConfig() *AgentConfig {
	return &AgentConfig{
		Global: GlobalConfig{
			LogLevel:                    "INFO",
			LogFormat:                   "text",
			ProducerName:                "memfaultd-go",
			ProducerVersion:             "0.1.0",
			UploadInterval:              1 * time.Hour,
			DeviceConfigRefreshInterval: 1 * time.Hour,
			DataCollectionEnabled:       true,
			DevModeEnabled:              false,
		},
		Disk: DiskConfig{
			StagingRoot:        "/media/memfault",
			MaxTotalSizeBytes:  10 * 1024 * 1024,
			MaxTotalSizeInodes: 1000,
			MinHeadroomBytes:   16 * 1024 * 1024,
			MinHeadroomInodes:  100,
		},
		Upload: UploadConfig{
			BaseURL:        "https://device.memfault.com",
			Timeout:        30 * time.Second,
			GzipEnabled:    true,
			MaxBundleSizeB: 5 * 1024 * 1024,
			MaxAttempts:    5,
			InitialDelay:   1 * time.Second,
			MaxDelay:       5 * time.Minute,
		},
		Coredump: CoredumpConfig{
			CaptureStrategy:  "threads",
			MaxThreadSize:    32 * 1024,
			SizeCapBytes:     1024 * 1024,
			Compression:      "gzip",
			RateLimitCount:   5,
			RateLimitWindow:  1 * time.Hour,
			CapturedLogLines: 100,
		},
		Metrics: MetricsConfig{
			HeartbeatInterval:      1 * time.Hour,
			DailyHeartbeatInterval: 24 * time.Hour,
			SessionCoreMetrics:     []string{"operational_crashfree_issue"},
			HistogramExpandKeys: []string{
				"cpu_usage_pct", "memory_pct", "thermal_zone_temp_degc",
			},
		},
		Logs: LogsConfig{
			Sources:           []string{"/var/log/messages"},
			TmpPath:           "/media/memfault/logs_tmp",
			RotateSizeBytes:   10 * 1024 * 1024,
			RotateAfter:       1 * time.Hour,
			MaxLinesPerMinute: 1000,
			MaxBackups:        3,
			CompressOnRotate:  true,
			MinHeadroomBytes:  16 * 1024 * 1024,
			MinHeadroomInodes: 100,
		},
		Reboot: RebootConfig{
			PstoreDir:          "/sys/fs/pstore",
			CustomReasonFile:   "/media/memfault/reboot_reason",
			InternalReasonFile: "/media/memfault/last_reboot_reason",
			LastBootIDFile:     "/media/memfault/last_boot_id",
		},
		Export: ExportConfig{
			ListenAddress:  "127.0.0.1:8787",
			MaxBundleSizeB: 10 * 1024 * 1024,
		},
		SysMetrics: SysMetricsConfig{
			Enabled:             true,
			PollInterval:        1 * time.Minute,
			ConnectivityTargets: []ConnectivityTargetConfig{{Host: "device.memfault.com", Port: 443}},
			ConnectivityTimeout: 5 * time.Second,
		},
		SessionAPI: SessionAPIConfig{
			ListenAddress: "127.0.0.1:8788",
		},
	}
}

// LoadFromFile reads YAML config from filename and merges it on top of the
// receiver, so callers typically start from DefaultConfig().
func (c *AgentConfig) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks invariants the core relies on.
func (c *AgentConfig) Validate() error {
	if c.Global.ProjectKey == "" {
		return fmt.Errorf("global.project_key is required")
	}
	if c.Disk.MaxTotalSizeBytes <= 0 {
		return fmt.Errorf("disk.max_total_size_bytes must be greater than 0")
	}
	if c.Upload.BaseURL == "" {
		return fmt.Errorf("upload.base_url is required")
	}
	if c.Coredump.CaptureStrategy != "kernel_selection" && c.Coredump.CaptureStrategy != "threads" {
		return fmt.Errorf("coredump.capture_strategy must be kernel_selection or threads, got %q", c.Coredump.CaptureStrategy)
	}
	if c.Coredump.Compression != "gzip" && c.Coredump.Compression != "none" {
		return fmt.Errorf("coredump.compression must be gzip or none, got %q", c.Coredump.Compression)
	}
	return nil
}
