package reboot

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/internal/logging"
)

// pstoreDmesgFile is the sentinel file kernel persistent storage leaves
// behind after a panic; its mere presence is the signal, not its content.
const pstoreDmesgFile = "dmesg-ramoops-0"

// source is one candidate reboot-reason provider, tried in the order
// defaultSources returns them. A source that has no verdict returns ok=false.
type source struct {
	name string
	read func() (Reason, bool)
}

// defaultSources builds the three sources in the priority order the
// tracker consults: kernel persistent storage first, then a file a
// customer's own code may have written, then the tracker's own
// internal file (used to record a clean UserReset shutdown).
func defaultSources(cfg config.RebootConfig, log *logging.Logger) []source {
	return []source{
		{name: "pstore", read: func() (Reason, bool) { return readPstoreReason(cfg.PstoreDir, log) }},
		{name: "custom", read: func() (Reason, bool) { return readAndClearReasonFile(cfg.CustomReasonFile, log) }},
		{name: "internal", read: func() (Reason, bool) { return readAndClearReasonFile(cfg.InternalReasonFile, log) }},
	}
}

func readPstoreReason(pstoreDir string, log *logging.Logger) (Reason, bool) {
	if pstoreDir == "" {
		return ReasonUnknown, false
	}
	if _, err := os.Stat(filepath.Join(pstoreDir, pstoreDmesgFile)); err != nil {
		return ReasonUnknown, false
	}
	clearPstoreFiles(pstoreDir, log)
	return ReasonKernelPanic, true
}

// clearPstoreFiles removes every regular file in the pstore directory once
// its contents have been attributed to this boot, so a future boot without
// a fresh panic doesn't re-attribute the same one.
func clearPstoreFiles(pstoreDir string, log *logging.Logger) {
	entries, err := os.ReadDir(pstoreDir)
	if err != nil {
		if log != nil {
			log.Warn("failed to list pstore directory", map[string]interface{}{"path": pstoreDir, "cause": err.Error()})
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(pstoreDir, e.Name())); err != nil && log != nil {
			log.Warn("failed to remove pstore file", map[string]interface{}{"path": e.Name(), "cause": err.Error()})
		}
	}
}

// readAndClearReasonFile reads a small integer reason code from path and
// removes the file, so the reason is only ever attributed once. A missing
// or unparseable file yields no verdict.
func readAndClearReasonFile(path string, log *logging.Logger) (Reason, bool) {
	if path == "" {
		return ReasonUnknown, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ReasonUnknown, false
	}
	_ = os.Remove(path)

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		if log != nil {
			log.Error("failed to parse reboot reason file", map[string]interface{}{"path": path, "cause": err.Error()})
		}
		return ReasonUnknown, false
	}
	reason, ok := reasonFromInt(n)
	if !ok && log != nil {
		log.Error("reboot reason file had an out-of-range value", map[string]interface{}{"path": path, "value": n})
	}
	return reason, ok
}
