// Package upload groups committed artifact staging area entries into
// size-bounded ZIP bundles and ships them to the backend's three-call
// upload protocol, deleting entries on success.
package upload

import (
	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/internal/zipstream"
)

// Bundle is a group of entries whose combined ZIP stream size stays under
// the configured bundle size limit (a single oversize entry still forms
// its own bundle).
type Bundle struct {
	EntryPaths []string
	ZipInfos   []*zipstream.EntryInfo
}

// GatherBundles walks root's committed entries and groups them into
// bundles bounded by maxBundleSize. An entry whose attachments cannot be
// opened is skipped entirely (not deleted) so a transient read error never
// destroys data; invalid (uncommitted/corrupt) entries are logged and
// skipped the same way iteration reports them.
func GatherBundles(root string, maxBundleSize int64, log *logging.Logger) ([]Bundle, error) {
	results, err := asa.Walk(root)
	if err != nil {
		return nil, err
	}

	type entryWithInfos struct {
		path  string
		infos []*zipstream.EntryInfo
	}

	var candidates []entryWithInfos
	for _, r := range results {
		if r.Err != nil {
			if log != nil {
				log.WithField("dir", r.Dir).Warn("invalid folder in staging area")
			}
			continue
		}

		infos, err := resolveZipInfos(r.Entry)
		if err != nil {
			if log != nil {
				log.WithField("dir", r.Dir).Warn("unable to resolve attachments, skipping this batch")
			}
			continue
		}
		candidates = append(candidates, entryWithInfos{path: r.Entry.Path, infos: infos})
	}

	var bundles []Bundle
	zipSize := int64(zipstream.StreamLen(nil))
	var current Bundle

	flush := func() {
		if len(current.EntryPaths) > 0 {
			bundles = append(bundles, current)
		}
		current = Bundle{}
		zipSize = int64(zipstream.StreamLen(nil))
	}

	for _, c := range candidates {
		entrySize := int64(zipstream.StreamLen(c.infos)) - int64(zipstream.StreamLen(nil))
		overSize := zipSize+entrySize > maxBundleSize
		overCount := len(current.ZipInfos)+len(c.infos) > zipstream.MaxEntries
		if (overSize || overCount) && len(current.EntryPaths) > 0 {
			flush()
		}
		current.EntryPaths = append(current.EntryPaths, c.path)
		current.ZipInfos = append(current.ZipInfos, c.infos...)
		zipSize += entrySize
	}
	flush()

	return bundles, nil
}

// resolveZipInfos turns an entry's filenames into zipstream.EntryInfo
// values, confirming each attachment is currently openable. base for the
// archive name is the entry's parent directory, so the zip preserves a
// "<uuid>/<filename>" layout.
func resolveZipInfos(entry asa.Entry) ([]*zipstream.EntryInfo, error) {
	base := parentDir(entry.Path)
	infos := make([]*zipstream.EntryInfo, 0, len(entry.Filenames()))
	for _, filename := range entry.Filenames() {
		path := entry.AttachmentPath(filename)
		if err := checkReadable(path); err != nil {
			return nil, err
		}
		info, err := zipstream.NewEntryInfo(path, base)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
