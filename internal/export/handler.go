// Package export serves committed artifacts to a local consumer over
// /v1/export: GET returns the next bundle and remembers it until the
// consumer confirms read-out with DELETE or the bundle's files vanish out
// from under it (e.g. the cleaner reclaiming disk space).
package export

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/internal/upload"
)

// URL is the path this handler answers.
const URL = "/v1/export"

// Handler implements GET/DELETE /v1/export.
type Handler struct {
	mu sync.Mutex

	stagingRoot   string
	maxBundleSize int64
	current       *preparedExport
	log           *logging.Logger
}

// preparedExport is the bundle last offered to a client, remembered until a
// DELETE confirms read-out or one of its files disappears.
type preparedExport struct {
	bundle upload.Bundle
	hash   string
}

func (p *preparedExport) isValid() bool {
	for _, path := range p.bundle.EntryPaths {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// New builds a Handler serving bundles gathered from stagingRoot, each
// bounded to maxBundleSizeBytes.
func New(stagingRoot string, maxBundleSizeBytes int64, log *logging.Logger) *Handler {
	return &Handler{stagingRoot: stagingRoot, maxBundleSize: maxBundleSizeBytes, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	format, err := parseAcceptHeader(r.Header.Get("Accept"))
	if err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil && !h.current.isValid() {
		h.current = nil
	}
	if h.current == nil {
		prepared, err := h.prepareNextExport()
		if err != nil {
			if h.log != nil {
				h.log.Error("failed to prepare export bundle", map[string]interface{}{"error": err.Error()})
			}
			http.Error(w, "failed to prepare export bundle", http.StatusInternalServerError)
			return
		}
		h.current = prepared
	}

	if h.current == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	reader, length, err := body(h.current.bundle.ZipInfos, format)
	if err != nil {
		if h.log != nil {
			h.log.Error("failed to construct export bundle", map[string]interface{}{"error": err.Error()})
		}
		http.Error(w, "failed to construct export bundle", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.contentType())
	w.Header().Set("ETag", `"`+h.current.hash+`"`)
	w.Header().Set("Content-Length", strconv.FormatUint(length, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil && h.log != nil {
		h.log.Warn("export stream interrupted", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" && strings.Trim(ifMatch, `"`) != h.current.hash {
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}

	for _, path := range h.current.bundle.EntryPaths {
		if err := os.RemoveAll(path); err != nil && h.log != nil {
			h.log.Warn("failed to delete exported entry", map[string]interface{}{"path": path, "error": err.Error()})
		}
	}
	h.current = nil
	w.WriteHeader(http.StatusNoContent)
}

// prepareNextExport gathers the next bundle to offer, or nil if the staging
// area currently holds nothing committed.
func (h *Handler) prepareNextExport() (*preparedExport, error) {
	bundles, err := upload.GatherBundles(h.stagingRoot, h.maxBundleSize, h.log)
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, nil
	}
	bundle := bundles[0]
	return &preparedExport{bundle: bundle, hash: computeHash(bundle.EntryPaths)}, nil
}

// computeHash is a stable FNV-1a hash over the bundle's entry paths,
// length-prefixing each one so "ab","c" and "a","bc" never collide.
func computeHash(paths []string) string {
	h := fnv.New64a()
	var lenBuf [8]byte
	for _, p := range paths {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		io.WriteString(h, p)
	}
	return strconv.FormatUint(h.Sum64(), 10)
}
