package asa

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/memfault/memfaultd-go/internal/disksize"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// entryOverheadSizeEstimate approximates the bytes consumed by manifest.json
// and the entry's own directory inode, which attachment sizes alone don't
// account for.
const entryOverheadSizeEstimate = 4096

// Builder constructs a new ASA entry. Go has no destructors, so unlike the
// Rust original's drop-cleans-up-the-directory behavior, callers MUST defer
// Discard() after calling NewBuilder: Discard is a no-op once Save has
// committed the entry, and removes the half-built directory otherwise.
//
//	b, err := asa.NewBuilder(root)
//	if err != nil { return err }
//	defer b.Discard()
//	...
//	entry, err := b.Save(device, producer)
type Builder struct {
	dir         string
	collectedAt CollectionTime
	metadata    *Metadata
	attachments []string
	committed   bool
}

// NewBuilder creates a fresh, uniquely named entry directory under root.
func NewBuilder(root string) (*Builder, error) {
	ct, err := NewCollectionTime()
	if err != nil {
		return nil, agenterrors.New(agenterrors.CodeInternal, "failed to capture collection time").
			WithComponent("asa").WithOperation("NewBuilder").WithCause(err)
	}

	id := NewUUID()
	dir := filepath.Join(root, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, agenterrors.New(agenterrors.CodeInternal, "failed to create entry directory").
			WithComponent("asa").WithOperation("NewBuilder").WithCause(err).WithContext("path", dir)
	}

	return &Builder{dir: dir, collectedAt: ct}, nil
}

// Dir returns the entry directory's path, for producers that want to write
// attachments directly into it rather than moving them in at Save time.
func (b *Builder) Dir() string {
	return b.dir
}

// AttachmentPath returns filename's path inside the entry directory,
// without registering it as an attachment yet.
func (b *Builder) AttachmentPath(filename string) string {
	return filepath.Join(b.dir, filename)
}

// AddAttachment registers file to be moved into the entry directory at
// Save time. file must be an existing, absolute path to a regular file.
func (b *Builder) AddAttachment(file string) *Builder {
	b.attachments = append(b.attachments, file)
	return b
}

// SetMetadata attaches the tagged payload that will be written into the
// manifest.
func (b *Builder) SetMetadata(m Metadata) *Builder {
	b.metadata = &m
	return b
}

// EstimatedSize returns the disk footprint Save is expected to consume,
// for budget checks performed before committing.
func (b *Builder) EstimatedSize() disksize.DiskSize {
	var totalBytes uint64
	for _, path := range b.attachments {
		if info, err := os.Stat(path); err == nil {
			totalBytes += uint64(info.Size())
		}
	}
	return disksize.DiskSize{
		Bytes:  totalBytes + entryOverheadSizeEstimate,
		Inodes: uint64(len(b.attachments)) + 1,
	}
}

// Save moves attachments into the entry directory, writes the manifest to
// manifest.tmp, and renames it to manifest.json to commit the entry
// atomically. After Save returns successfully, Discard is a no-op.
func (b *Builder) Save(device DeviceIdentity, producer ProducerIdentity) (Entry, error) {
	if b.metadata == nil {
		return Entry{}, agenterrors.New(agenterrors.CodeInvalidState, "entry builder has no metadata set").
			WithComponent("asa").WithOperation("Save")
	}

	for _, src := range b.attachments {
		target := filepath.Join(b.dir, filepath.Base(src))
		if err := moveFile(src, target); err != nil {
			return Entry{}, agenterrors.New(agenterrors.CodeInternal, "failed to move attachment into entry").
				WithComponent("asa").WithOperation("Save").WithCause(err).
				WithContext("src", src).WithContext("dst", target)
		}
	}

	manifest := NewManifest(b.collectedAt, device, producer, *b.metadata)

	tmpPath := filepath.Join(b.dir, "manifest.tmp")
	data, err := json.Marshal(manifest)
	if err != nil {
		return Entry{}, agenterrors.New(agenterrors.CodeInternal, "failed to marshal manifest").
			WithComponent("asa").WithOperation("Save").WithCause(err)
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return Entry{}, agenterrors.New(agenterrors.CodeInternal, "failed to write manifest.tmp").
			WithComponent("asa").WithOperation("Save").WithCause(err)
	}

	finalPath := filepath.Join(b.dir, manifestFilename)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Entry{}, agenterrors.New(agenterrors.CodeInternal, "failed to rename manifest.tmp to manifest.json").
			WithComponent("asa").WithOperation("Save").WithCause(err)
	}

	b.committed = true
	return Entry{Path: b.dir, UUID: filepath.Base(b.dir), Manifest: manifest}, nil
}

// Discard removes the entry directory if Save was never called. It is safe
// to call unconditionally (including after a successful Save) and safe to
// call more than once.
func (b *Builder) Discard() {
	if b.committed {
		return
	}
	_ = os.RemoveAll(b.dir)
	b.committed = true
}

// moveFile renames src to dst, falling back to copy-then-remove when they
// live on different filesystems (os.Rename returns EXDEV in that case).
func moveFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// NewCollectionTime captures wall clock and uptime readings at the instant
// an entry is created.
func NewCollectionTime() (CollectionTime, error) {
	bootID, err := ReadLinuxBootID()
	if err != nil {
		bootID = ""
	}
	uptime := readUptime()
	return CollectionTime{
		Timestamp:        time.Now().UTC(),
		UptimeMs:         uptime.Milliseconds(),
		BoottimeUptimeMs: uptime.Milliseconds(),
		LinuxBootID:      bootID,
	}, nil
}
