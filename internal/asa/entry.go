package asa

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

const manifestFilename = "manifest.json"

// Entry is a committed artifact: a directory containing exactly one
// manifest.json and zero or more attachment files.
type Entry struct {
	Path     string
	UUID     string
	Manifest Manifest
}

// LoadEntry opens and parses the manifest.json inside dir. A directory with
// no committed manifest.json (still being built, or orphaned by a crash
// mid-build) is reported as invalid via a CodeManifestCorrupt error. Any
// failure to read manifest.json, including dir itself not existing, gets
// that same code.
func LoadEntry(dir string) (Entry, error) {
	manifestPath := filepath.Join(dir, manifestFilename)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Entry{}, agenterrors.New(agenterrors.CodeManifestCorrupt, "manifest not found or unreadable").
			WithComponent("asa").WithOperation("LoadEntry").WithCause(err).
			WithContext("path", dir)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Entry{}, agenterrors.New(agenterrors.CodeManifestCorrupt, "manifest is not valid JSON").
			WithComponent("asa").WithOperation("LoadEntry").WithCause(err).
			WithContext("path", dir)
	}

	return Entry{
		Path:     dir,
		UUID:     filepath.Base(dir),
		Manifest: m,
	}, nil
}

// AttachmentPath returns the absolute path of a named attachment inside the
// entry's directory.
func (e Entry) AttachmentPath(filename string) string {
	return filepath.Join(e.Path, filename)
}

// Filenames lists every file that belongs to this entry: manifest.json
// plus the attachment named in the manifest's metadata, if any.
func (e Entry) Filenames() []string {
	names := []string{manifestFilename}
	if e.Manifest.Metadata.AttachmentFilename != "" {
		names = append(names, e.Manifest.Metadata.AttachmentFilename)
	}
	return names
}

// Remove deletes the entry's entire directory tree.
func (e Entry) Remove() error {
	return os.RemoveAll(e.Path)
}
