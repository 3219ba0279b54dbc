package asa

import (
	"os"
	"path/filepath"
)

// WalkResult pairs a valid, loaded entry with the per-subdirectory error
// hit while trying to load it, so a caller can see both successes and
// failures from a single pass.
type WalkResult struct {
	Entry Entry
	Dir   string
	Err   error
}

// Walk lists subdirectories of root and attempts to load each as an entry.
// It never fails fast: a subdirectory lacking a committed manifest.json, or
// one with a corrupt manifest, is reported through WalkResult.Err rather
// than aborting the rest of the walk.
func Walk(root string) ([]WalkResult, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	results := make([]WalkResult, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(root, de.Name())
		entry, err := LoadEntry(dir)
		results = append(results, WalkResult{Entry: entry, Dir: dir, Err: err})
	}
	return results, nil
}

// ValidEntries filters Walk's results down to the successfully loaded
// entries, discarding invalid directories.
func ValidEntries(results []WalkResult) []Entry {
	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			entries = append(entries, r.Entry)
		}
	}
	return entries
}
