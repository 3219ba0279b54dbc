package coredump

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/memfault/memfaultd-go/internal/asa"
	coreelf "github.com/memfault/memfaultd-go/internal/coredump/elf"
	"github.com/memfault/memfaultd-go/internal/coredump/strategy"
	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/internal/disksize"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// HandlerConfig is the subset of the agent's configuration the coredump
// handler needs, bundled so the entrypoint doesn't have to know the shape
// of the whole AgentConfig.
type HandlerConfig struct {
	Global   config.GlobalConfig
	Disk     config.DiskConfig
	Coredump config.CoredumpConfig
}

// Handler is the kernel-invoked entrypoint: it is exec'd once per crash,
// with the crashing process's core piped in on stdin and its pid passed as
// an argument, matching /proc/sys/kernel/core_pattern's contract.
type Handler struct {
	cfg HandlerConfig
	log *logging.Logger
}

func NewHandler(cfg HandlerConfig, log *logging.Logger) *Handler {
	return &Handler{cfg: cfg, log: log}
}

// Run captures one coredump: it checks data collection and rate limits,
// computes how much of the remaining disk budget it may spend, transforms
// the kernel's core stream from stdin, and saves the result as a staged
// artifact. A skipped capture (disabled collection, rate limited, no disk
// headroom) is reported via a log line and a nil error, matching the
// kernel's expectation that the handler always exits cleanly.
func (h *Handler) Run(pid int, stdin io.Reader) error {
	if !h.cfg.Global.DataCollectionEnabled {
		h.log.Warn("data collection disabled, not processing corefile")
		return nil
	}

	if !h.cfg.Global.DevModeEnabled {
		allowed, err := h.checkRateLimit()
		if err != nil {
			return err
		}
		if !allowed {
			h.log.Warn("coredump rate limit reached, not processing corefile")
			return nil
		}
	}

	maxSize, err := h.calculateAvailableSpace()
	if err != nil {
		return err
	}
	if maxSize == 0 {
		h.log.Warn("not processing corefile, disk usage limits exceeded")
		return nil
	}

	builder, err := asa.NewBuilder(h.cfg.Disk.StagingRoot)
	if err != nil {
		return err
	}
	defer builder.Discard()

	outputFileName := generateTmpFileName(h.cfg.Coredump.Compression)
	outputFilePath := builder.AttachmentPath(outputFileName)

	outputFile, err := os.OpenFile(outputFilePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to create coredump output file").
			WithComponent("coredump").WithOperation("Run").WithCause(err)
	}
	defer outputFile.Close()

	bufOut := bufio.NewWriter(outputFile)
	var out io.Writer = bufOut
	var gz *gzip.Writer
	if h.cfg.Coredump.Compression == "gzip" {
		gz = gzip.NewWriter(bufOut)
		out = gz
	}

	procMem, err := strategy.OpenProcMem(pid)
	if err != nil {
		return agenterrors.New(agenterrors.CodeCoredumpUnreadable, "failed to open process memory").
			WithComponent("coredump").WithOperation("Run").WithCause(err)
	}
	defer procMem.Close()

	procMaps, err := strategy.LoadProcMaps(pid)
	if err != nil {
		return agenterrors.New(agenterrors.CodeCoredumpUnreadable, "failed to read process memory maps").
			WithComponent("coredump").WithOperation("Run").WithCause(err)
	}

	reader, err := coreelf.NewCoreReader(bufio.NewReader(stdin))
	if err != nil {
		return agenterrors.New(agenterrors.CodeCoredumpUnreadable, "failed to read core header").
			WithComponent("coredump").WithOperation("Run").WithCause(err)
	}

	options := Options{
		MaxSize:               maxSize,
		CaptureStrategy:       h.cfg.Coredump.CaptureStrategy,
		MaxThreadSize:         int(h.cfg.Coredump.MaxThreadSize),
		ThreadFilterSupported: true,
	}
	metadata := Metadata{
		SDKVersion:      h.cfg.Global.ProducerVersion,
		DeviceSerial:    h.cfg.Global.DeviceSerial,
		HardwareVersion: h.cfg.Global.HardwareVersion,
		SoftwareType:    h.cfg.Global.SoftwareType,
		SoftwareVersion: h.cfg.Global.SoftwareVersion,
		CmdLine:         processCmdLine(pid),
	}

	transformer := NewTransformer(reader, procMem, procMaps, options, metadata, h.log)
	runErr := transformer.Run(out)

	if gz != nil {
		if closeErr := gz.Close(); closeErr != nil && runErr == nil {
			runErr = closeErr
		}
	}
	if flushErr := bufOut.Flush(); flushErr != nil && runErr == nil {
		runErr = flushErr
	}
	if runErr != nil {
		return agenterrors.New(agenterrors.CodeCoredumpUnreadable, "failed to capture coredump").
			WithComponent("coredump").WithOperation("Run").WithCause(runErr)
	}

	device := asa.DeviceIdentity{
		ProjectKey:      h.cfg.Global.ProjectKey,
		DeviceSerial:    h.cfg.Global.DeviceSerial,
		HardwareVersion: h.cfg.Global.HardwareVersion,
		SoftwareType:    h.cfg.Global.SoftwareType,
		SoftwareVersion: h.cfg.Global.SoftwareVersion,
	}
	producer := asa.ProducerIdentity{Name: h.cfg.Global.ProducerName, Version: h.cfg.Global.ProducerVersion}

	compressionTag := "none"
	if h.cfg.Coredump.Compression == "gzip" {
		compressionTag = "gzip"
	}

	builder.SetMetadata(asa.Metadata{
		Kind:               asa.KindElfCoredump,
		AttachmentFilename: outputFileName,
		CompressionTag:     compressionTag,
		ElfCoredump:        &asa.ElfCoredumpPayload{CaptureStrategy: options.CaptureStrategy},
	})
	builder.AddAttachment(outputFilePath)

	entry, err := builder.Save(device, producer)
	if err != nil {
		return err
	}

	h.log.Info("captured coredump", map[string]interface{}{"entry": entry.Path})
	return nil
}

func (h *Handler) checkRateLimit() (bool, error) {
	limiter := NewRateLimiter(h.rateLimiterStatePath(), h.cfg.Coredump.RateLimitCount, h.cfg.Coredump.RateLimitWindow)
	return limiter.Allow(time.Now())
}

func (h *Handler) rateLimiterStatePath() string {
	return filepath.Join(h.cfg.Disk.StagingRoot, "coredump_rate_limiter.json")
}

// calculateAvailableSpace bounds the core file's output size by both the
// configured cap and whatever headroom remains above the staging area's
// minimum, returning 0 when there is no headroom left to spend.
func (h *Handler) calculateAvailableSpace() (int64, error) {
	available, err := disksize.Available(h.cfg.Disk.StagingRoot)
	if err != nil {
		return 0, agenterrors.New(agenterrors.CodeInternal, "failed to read available disk space").
			WithComponent("coredump").WithOperation("calculateAvailableSpace").WithCause(err)
	}

	minHeadroom := disksize.DiskSize{
		Bytes:  uint64(h.cfg.Disk.MinHeadroomBytes),
		Inodes: uint64(h.cfg.Disk.MinHeadroomInodes),
	}
	if !available.Exceeds(minHeadroom) {
		return 0, nil
	}

	spendable := available.Sub(minHeadroom).Bytes
	maxSize := uint64(h.cfg.Coredump.SizeCapBytes)
	if spendable < maxSize {
		maxSize = spendable
	}
	return int64(maxSize), nil
}

func generateTmpFileName(compression string) string {
	extension := "elf"
	if compression == "gzip" {
		extension = "elf.gz"
	}
	return fmt.Sprintf("core-%s.%s", uuid.New().String(), extension)
}

// processCmdLine reads the crashing process's command line from
// /proc/<pid>/cmdline, which is still readable while the process is
// stopped awaiting the coredump handler.
func processCmdLine(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return ""
	}
	for i, b := range data {
		if b == 0 {
			data[i] = ' '
		}
	}
	return string(data)
}
