// Command memfaultd-go is the device-resident agent binary: it loads
// configuration, wires the core components together, and runs the main
// loop until asked to stop or reload.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/memfault/memfaultd-go/internal/agent"
	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/internal/disksize"
	"github.com/memfault/memfaultd-go/internal/export"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/internal/logs/collector"
	"github.com/memfault/memfaultd-go/internal/metrics"
	"github.com/memfault/memfaultd-go/internal/reboot"
	"github.com/memfault/memfaultd-go/internal/selfmetrics"
	"github.com/memfault/memfaultd-go/internal/sessionapi"
	"github.com/memfault/memfaultd-go/internal/sysmetrics"
	"github.com/memfault/memfaultd-go/internal/upload"
)

const exportServerShutdownGrace = 5 * time.Second
const sessionAPIShutdownGrace = 5 * time.Second

// linuxClockTicksPerSecond is USER_HZ, fixed at 100 on virtually every
// Linux system regardless of CONFIG_HZ.
const linuxClockTicksPerSecond = 100

func main() {
	configPath := flag.String("config", "/etc/memfaultd.conf", "path to the agent's YAML config file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "memfaultd-go: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "memfaultd-go: invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(&logging.Config{
		Level:         parseLogLevel(cfg.Global.LogLevel),
		Output:        os.Stdout,
		Format:        parseLogFormat(cfg.Global.LogFormat),
		IncludeCaller: true,
	})

	for {
		action, err := run(cfg, log)
		if err != nil {
			log.Error("agent exited with error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		if action != agent.Relaunch {
			return
		}
		log.Info("reloading configuration", nil)
		if err := cfg.LoadFromFile(*configPath); err != nil {
			log.Error("failed to reload config, keeping previous configuration", map[string]interface{}{"error": err.Error()})
		}
	}
}

// run wires one generation of the agent's components and runs it to
// completion. A fresh generation is built on every SIGHUP-triggered
// relaunch so a changed config takes full effect, rather than trying to
// hot-swap already-constructed collaborators in place.
func run(cfg *config.AgentConfig, log *logging.Logger) (agent.ExitAction, error) {
	device := asa.DeviceIdentity{
		ProjectKey:      cfg.Global.ProjectKey,
		DeviceSerial:    cfg.Global.DeviceSerial,
		HardwareVersion: cfg.Global.HardwareVersion,
		SoftwareType:    cfg.Global.SoftwareType,
		SoftwareVersion: cfg.Global.SoftwareVersion,
	}
	producer := asa.ProducerIdentity{
		Name:    cfg.Global.ProducerName,
		Version: cfg.Global.ProducerVersion,
	}

	stagingRoot := cfg.Disk.StagingRoot
	maxTotalSize := disksize.DiskSize{Bytes: uint64(cfg.Disk.MaxTotalSizeBytes), Inodes: uint64(cfg.Disk.MaxTotalSizeInodes)}
	minHeadroom := disksize.DiskSize{Bytes: uint64(cfg.Disk.MinHeadroomBytes), Inodes: uint64(cfg.Disk.MinHeadroomInodes)}
	cleaner := asa.NewCleaner(stagingRoot, maxTotalSize, minHeadroom, log)

	ownMetrics := selfmetrics.NewCollector()

	onArtifact := func(e asa.Entry) {
		ownMetrics.RecordEntryStaged(string(e.Manifest.Metadata.Kind))
	}

	reportManager := metrics.NewReportManagerWithSessions(log, cfg.Metrics.Sessions, cfg.Metrics.SessionCoreMetrics)

	uploader := upload.New(stagingRoot, cfg.Upload, ownMetrics, log)

	rebootTracker := reboot.New(cfg.Reboot, stagingRoot, reboot.Identity{Device: device, Producer: producer}, nil, onArtifact, log)

	a := agent.New(agent.Config{
		UploadInterval:              cfg.Global.UploadInterval,
		DeviceConfigRefreshInterval: cfg.Global.DeviceConfigRefreshInterval,
		DataCollectionEnabled:       cfg.Global.DataCollectionEnabled,
	}, cleaner, uploader, rebootTracker, log)

	a.AddShutdownTask("reboot-tracker", func() error {
		return rebootTracker.OnServiceStateChange(reboot.ServiceStopping)
	})

	for _, src := range cfg.Logs.Sources {
		logCfg := cfg.Logs
		logCfg.TmpPath = src
		logsCollector, err := collector.New(logCfg, stagingRoot, collector.Identity{Device: device, Producer: producer}, reportManager.AddToCounter, onArtifact, log)
		if err != nil {
			return agent.Terminate, fmt.Errorf("failed to start log collector for %s: %w", src, err)
		}
		source := src
		a.AddSyncTask("logs:"+source, func(forced bool) error { return logsCollector.Tick(forced) })
		a.AddShutdownTask("logs:"+source, logsCollector.Close)
	}

	var lastHeartbeat time.Time
	a.AddSyncTask("metrics:heartbeat", func(forced bool) error {
		if cfg.Metrics.HeartbeatInterval <= 0 {
			return nil
		}
		if !forced && time.Since(lastHeartbeat) < cfg.Metrics.HeartbeatInterval {
			return nil
		}
		lastHeartbeat = time.Now()
		return reportManager.DumpAllReports(stagingRoot, device, producer)
	})

	exportServer := export.NewServer(cfg.Export.ListenAddress, stagingRoot, cfg.Export.MaxBundleSizeB, ownMetrics.Handler(), log)
	exportServer.StartBackground()
	a.AddShutdownTask("export-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), exportServerShutdownGrace)
		defer cancel()
		return exportServer.Shutdown(ctx)
	})

	sessionServer := sessionapi.NewServer(sessionapi.Config{
		Address:               cfg.SessionAPI.ListenAddress,
		DataCollectionEnabled: cfg.Global.DataCollectionEnabled,
		StagingRoot:           stagingRoot,
		Device:                device,
		Producer:              producer,
	}, reportManager, log)
	sessionServer.StartBackground()
	a.AddShutdownTask("session-api-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sessionAPIShutdownGrace)
		defer cancel()
		return sessionServer.Shutdown(ctx)
	})

	if cfg.SysMetrics.Enabled {
		registerSysMetrics(a, cfg, reportManager)
	}

	crashfreeTracker := metrics.NewHourlyCrashFreeIntervalTracker(reportManager)
	a.AddSyncTask("metrics:crashfree", func(forced bool) error {
		return crashfreeTracker.WaitAndUpdate(0)
	})

	return a.Run(context.Background())
}

// registerSysMetrics builds the built-in system metric collectors and
// registers a sync task polling all of them on cfg.SysMetrics.PollInterval,
// forwarding every reading through manager.AddMetric to every live report
// that captures it.
func registerSysMetrics(a *agent.Agent, cfg *config.AgentConfig, manager *metrics.ReportManager) {
	roots := sysmetrics.DefaultConfig()
	memTotalBytes := totalMemoryBytes()
	bytesPerPage := float64(os.Getpagesize())
	clockTicksPerMs := float64(linuxClockTicksPerSecond) / 1000.0

	collectors := []sysmetrics.Collector{
		sysmetrics.NewCPUCollector(roots.ProcRoot),
		sysmetrics.NewMemoryCollector(roots.ProcRoot),
		sysmetrics.NewDiskSpaceCollector(roots.ProcRoot),
		sysmetrics.NewNetworkInterfaceCollector(roots.ProcRoot),
		sysmetrics.NewThermalCollector(roots.SysRoot),
		sysmetrics.NewBatteryCollector(roots.SysRoot, "BAT0"),
	}

	if len(cfg.SysMetrics.ProcessNames) > 0 {
		collectors = append(collectors, sysmetrics.NewProcessCollectorForNames(roots.ProcRoot, cfg.SysMetrics.ProcessNames, clockTicksPerMs, bytesPerPage, memTotalBytes))
	} else {
		collectors = append(collectors, sysmetrics.NewProcessCollectorAuto(roots.ProcRoot, filepath.Base(os.Args[0]), clockTicksPerMs, bytesPerPage, memTotalBytes))
	}

	if len(cfg.SysMetrics.ConnectivityTargets) > 0 {
		targets := make([]sysmetrics.ConnectivityTarget, len(cfg.SysMetrics.ConnectivityTargets))
		for i, t := range cfg.SysMetrics.ConnectivityTargets {
			targets[i] = sysmetrics.ConnectivityTarget{Host: t.Host, Port: t.Port}
		}
		collectors = append(collectors, sysmetrics.NewConnectivityCollector(targets, cfg.SysMetrics.ConnectivityTimeout))
	}

	registry := sysmetrics.NewRegistry(collectors, func(readings []metrics.KeyedMetricReading) error {
		for _, reading := range readings {
			if err := manager.AddMetric(reading); err != nil {
				return err
			}
		}
		return nil
	})

	var lastPoll time.Time
	a.AddSyncTask("sysmetrics", func(forced bool) error {
		if !forced && cfg.SysMetrics.PollInterval > 0 && time.Since(lastPoll) < cfg.SysMetrics.PollInterval {
			return nil
		}
		lastPoll = time.Now()
		return registry.Poll(context.Background())
	})
}

// totalMemoryBytes reads the kernel's reported total RAM, used to turn the
// process collector's RSS page counts into a percentage of total memory.
func totalMemoryBytes() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return float64(info.Totalram) * float64(info.Unit)
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "trace":
		return logging.TRACE
	case "debug":
		return logging.DEBUG
	case "warn":
		return logging.WARN
	case "error":
		return logging.ERROR
	case "fatal":
		return logging.FATAL
	default:
		return logging.INFO
	}
}

func parseLogFormat(format string) logging.Format {
	if format == "json" {
		return logging.FormatJSON
	}
	return logging.FormatText
}
