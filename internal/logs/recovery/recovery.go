// Package recovery rebuilds next-content-id chaining for log files left
// behind in the log temp directory by a previous, possibly crashed, run.
package recovery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// FileInfo describes one file found in the log temp directory, already
// classified by name and size.
type FileInfo struct {
	Path string
	UUID string // empty if the filename isn't a valid UUID
	Size int64
}

func (f FileInfo) hasUUID() bool { return f.UUID != "" }

func shouldRecover(f FileInfo) bool {
	return f.hasUUID() && f.Size > 0
}

// ToRecover is one file that should be promoted to a completed-log
// artifact, chained to the next file (or a fresh UUID) via NextCid.
type ToRecover struct {
	Path    string
	Cid     string
	NextCid string
}

// Plan is the outcome of planning recovery over a set of files: what to
// delete, what to recover (in order), and the content-id the next freshly
// opened log file should use.
type Plan struct {
	ToDelete  []string
	ToRecover []ToRecover
	NextCid   string
}

// BuildPlan is the pure core of recovery, written to take fileInfos
// pre-sorted by mtime (oldest first) so it can be unit tested without a
// filesystem. genUUID is injected for the same reason.
func BuildPlan(fileInfos []FileInfo, genUUID func() string) Plan {
	lastCid := ""
	for _, info := range fileInfos {
		if !info.hasUUID() {
			continue
		}
		if shouldRecover(info) {
			lastCid = genUUID()
		} else {
			lastCid = info.UUID
		}
	}
	if lastCid == "" {
		lastCid = genUUID()
	}

	var toDelete []string
	var toRecoverInfos []FileInfo
	for _, info := range fileInfos {
		if shouldRecover(info) {
			toRecoverInfos = append(toRecoverInfos, info)
		} else {
			toDelete = append(toDelete, info.Path)
		}
	}

	toRecover := make([]ToRecover, len(toRecoverInfos))
	for i, info := range toRecoverInfos {
		next := lastCid
		if i+1 < len(toRecoverInfos) {
			next = toRecoverInfos[i+1].UUID
		}
		toRecover[i] = ToRecover{Path: info.Path, Cid: info.UUID, NextCid: next}
	}

	return Plan{ToDelete: toDelete, ToRecover: toRecover, NextCid: lastCid}
}

// Recovered mirrors rotation.CompletedLog's shape, named independently so
// this package never has to import rotation.
type Recovered struct {
	Path        string
	Cid         string
	NextCid     string
	Compression string
}

// Run enumerates tmpDir sorted by mtime, deletes files that don't belong,
// and hands every recoverable file to onRecovered so the caller can
// promote it into a staged artifact. It returns the content-id the next
// freshly opened log file should use.
func Run(tmpDir string, onRecovered func(Recovered) error) (string, error) {
	fileInfos, err := collectFileInfos(tmpDir)
	if err != nil {
		return "", err
	}

	plan := BuildPlan(fileInfos, func() string { return uuid.New().String() })

	for _, path := range plan.ToDelete {
		_ = os.Remove(path)
	}

	for _, r := range plan.ToRecover {
		_ = onRecovered(Recovered{Path: r.Path, Cid: r.Cid, NextCid: r.NextCid, Compression: "zlib"})
	}

	return plan.NextCid, nil
}

func collectFileInfos(tmpDir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, agenterrors.New(agenterrors.CodeRecoveryCorrupt, "failed to list log temp directory").
			WithComponent("logs").WithOperation("recovery.Run").WithCause(err).WithContext("path", tmpDir)
	}

	type entryWithInfo struct {
		path  string
		mtime int64
		size  int64
	}
	var withInfo []entryWithInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		withInfo = append(withInfo, entryWithInfo{
			path:  filepath.Join(tmpDir, e.Name()),
			mtime: info.ModTime().UnixNano(),
			size:  info.Size(),
		})
	}
	sort.Slice(withInfo, func(i, j int) bool { return withInfo[i].mtime < withInfo[j].mtime })

	fileInfos := make([]FileInfo, len(withInfo))
	for i, e := range withInfo {
		fileInfos[i] = FileInfo{Path: e.path, UUID: filePrefixUUID(e.path), Size: e.size}
	}
	return fileInfos, nil
}

// filePrefixUUID extracts the UUID from a filename like
// "<uuid>.log.zlib", returning "" if the portion before the first dot
// isn't a valid UUID.
func filePrefixUUID(path string) string {
	base := filepath.Base(path)
	prefix := base
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		prefix = base[:idx]
	}
	if _, err := uuid.Parse(prefix); err != nil {
		return ""
	}
	return prefix
}
