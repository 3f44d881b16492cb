// Package seglog implements the persistent storage backend: a circular
// record log per data type built on a block-oriented filesystem.
//
// Per type the on-disk layout is one 8-byte header file holding the read
// and write cursors, and data spread across fixed-size segment files. A
// segment holds block_size / record_size records, so a segment never
// spans a filesystem block boundary and worst-case per-operation I/O is
// one file open, one seek and one read or write. Eviction happens by
// cursor advance, not by data erasure: the old bytes are simply
// overwritten on the next wrap.
//
// File layout:
//   - Header: <name>.header, {read_offset: u32 LE, write_offset: u32 LE}
//   - Segments: <name>_<index>.bin, entries_per_segment fixed-size
//     records with no embedded framing; position is computed
//     arithmetically, never scanned.
package seglog

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/xtxerr/stash/internal/errors"
	"github.com/xtxerr/stash/internal/logging"
	"github.com/xtxerr/stash/internal/storage/types"
)

const headerSize = 8 // 4 bytes read offset + 4 bytes write offset

// Options configures the segment log backend.
type Options struct {
	// Dir is the storage directory. Created if missing.
	Dir string

	// Capacity is the maximum number of records held per type before
	// overwrite-oldest eviction kicks in.
	Capacity uint32

	// BlockSize overrides the filesystem's native block size. Zero means
	// ask the filesystem (statfs). Tests use a small explicit value to
	// exercise multi-segment addressing deterministically.
	BlockSize int

	// MetadataBlocks is the fixed filesystem overhead reserved during
	// the init capacity check. Covers the filesystem's own metadata and
	// the header files.
	MetadataBlocks int
}

// DefaultOptions returns default segment log options.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:            dir,
		Capacity:       64,
		MetadataBlocks: 3,
	}
}

// header is the per-type cursor pair. Cursors are monotonically
// increasing record counters; write-read is the buffered count and
// offset % Capacity is the storage position.
type header struct {
	read  uint32
	write uint32
}

// Log is the persistent backend.
type Log struct {
	mu sync.Mutex

	registry *types.Registry
	opts     Options

	blockSize int
	// entries per segment, per type tag, fixed at Init
	entries map[uint8]int

	log *slog.Logger
}

// New creates a segment log backend. Init must be called before use.
func New(registry *types.Registry, opts Options) *Log {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultOptions(opts.Dir).Capacity
	}
	if opts.MetadataBlocks == 0 {
		opts.MetadataBlocks = DefaultOptions(opts.Dir).MetadataBlocks
	}
	return &Log{
		registry: registry,
		opts:     opts,
		entries:  make(map[uint8]int),
		log:      logging.Component("seglog"),
	}
}

// Init creates the storage directory, verifies the volume is large
// enough for the configured capacity, computes per-type segment geometry
// and creates missing header files.
//
// The capacity check runs before any data is accepted: an
// under-provisioned volume would silently lose data later instead of
// failing loudly now.
func (l *Log) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.opts.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create storage dir")
	}

	blockSize, totalBlocks, err := volumeGeometry(l.opts.Dir, l.opts.BlockSize)
	if err != nil {
		return errors.Wrap(err, "stat volume")
	}
	l.blockSize = blockSize

	needed := uint64(l.opts.MetadataBlocks)
	for _, dt := range l.registry.Types() {
		if dt.Size > blockSize {
			return errors.Wrapf(errors.ErrRecordTooLarge,
				"%s: record size %d exceeds block size %d", dt.Name, dt.Size, blockSize)
		}
		l.entries[dt.Tag] = blockSize / dt.Size

		maxFileBytes := uint64(dt.Size) * uint64(l.opts.Capacity)
		needed += (maxFileBytes + uint64(blockSize) - 1) / uint64(blockSize)
	}

	if totalBlocks > 0 && needed > totalBlocks {
		return errors.Wrapf(errors.ErrVolumeTooSmall,
			"need %d blocks of %d bytes, volume has %d", needed, blockSize, totalBlocks)
	}

	l.log.Info("volume verified",
		"dir", l.opts.Dir,
		"block_size", blockSize,
		"needed_blocks", needed,
		"total_blocks", totalBlocks)

	for _, dt := range l.registry.Types() {
		path := l.headerPath(dt)
		if _, err := os.Stat(path); err == nil {
			l.log.Debug("header exists", "type", dt.Name)
			continue
		}
		if err := l.writeHeader(dt, header{}); err != nil {
			return errors.Wrapf(err, "init header for %s", dt.Name)
		}
		l.log.Debug("header initialized", "type", dt.Name)
	}

	return nil
}

func (l *Log) headerPath(dt *types.DataType) string {
	return filepath.Join(l.opts.Dir, dt.Name+".header")
}

func (l *Log) segmentPath(dt *types.DataType, index int) string {
	return filepath.Join(l.opts.Dir, fmt.Sprintf("%s_%d.bin", dt.Name, index))
}

func (l *Log) readHeader(dt *types.DataType) (header, error) {
	var buf [headerSize]byte

	f, err := os.Open(l.headerPath(dt))
	if err != nil {
		return header{}, err
	}
	defer f.Close()

	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return header{}, err
	}

	return header{
		read:  binary.LittleEndian.Uint32(buf[0:4]),
		write: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// writeHeader atomically replaces the header file. Cursor updates go
// through a temp file and rename so a crash mid-update leaves the old
// cursors intact rather than a torn header.
func (l *Log) writeHeader(dt *types.DataType, h header) error {
	var buf [headerSize]byte

	binary.LittleEndian.PutUint32(buf[0:4], h.read)
	binary.LittleEndian.PutUint32(buf[4:8], h.write)

	path := l.headerPath(dt)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, buf[:], 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// Store appends one record. Write order is data first, header second: if
// the header update fails the cursors are unchanged and the write never
// happened as far as readers are concerned.
func (l *Log) Store(dt *types.DataType, rec []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dt == nil {
		return errors.ErrInvalidDescriptor
	}
	if len(rec) != dt.Size {
		return errors.Wrapf(errors.ErrSizeMismatch, "%s: got %d, want %d", dt.Name, len(rec), dt.Size)
	}

	h, err := l.readHeader(dt)
	if err != nil {
		return errors.Wrap(err, "read header")
	}

	eps, ok := l.entries[dt.Tag]
	if !ok {
		return errors.Wrap(errors.ErrTypeNotFound, dt.Name)
	}

	wrapped := h.write % l.opts.Capacity
	segment := int(wrapped) / eps
	slot := int(wrapped) % eps
	wasFull := h.write-h.read >= l.opts.Capacity

	f, err := os.OpenFile(l.segmentPath(dt, segment), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "open segment")
	}

	if _, err := f.WriteAt(rec, int64(slot)*int64(dt.Size)); err != nil {
		f.Close()
		return errors.Wrap(err, "write record")
	}

	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close segment")
	}

	h.write++
	if wasFull {
		h.read++
		l.log.Warn("storage full, overwriting oldest", "type", dt.Name)
	}

	if err := l.writeHeader(dt, h); err != nil {
		return errors.Wrap(err, "update header")
	}

	return nil
}

// Peek returns the next unread record's size, copying the record into
// out when out is non-nil.
func (l *Log) Peek(dt *types.DataType, out []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.readEntry(dt, out, false)
}

// Retrieve is Peek plus advancing the read cursor.
func (l *Log) Retrieve(dt *types.DataType, out []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.readEntry(dt, out, true)
}

func (l *Log) readEntry(dt *types.DataType, out []byte, consume bool) (int, error) {
	if dt == nil {
		return 0, errors.ErrInvalidDescriptor
	}

	h, err := l.readHeader(dt)
	if err != nil {
		return 0, errors.Wrap(err, "read header")
	}

	if h.read == h.write {
		return 0, errors.ErrNoData
	}

	if out != nil {
		if len(out) < dt.Size {
			return 0, errors.Wrapf(errors.ErrBufferTooSmall, "%s: need %d, have %d", dt.Name, dt.Size, len(out))
		}

		eps, ok := l.entries[dt.Tag]
		if !ok {
			return 0, errors.Wrap(errors.ErrTypeNotFound, dt.Name)
		}

		wrapped := h.read % l.opts.Capacity
		segment := int(wrapped) / eps
		slot := int(wrapped) % eps

		f, err := os.Open(l.segmentPath(dt, segment))
		if err != nil {
			return 0, errors.Wrap(err, "open segment")
		}

		if _, err := f.ReadAt(out[:dt.Size], int64(slot)*int64(dt.Size)); err != nil {
			f.Close()
			return 0, errors.Wrap(err, "read record")
		}

		if err := f.Close(); err != nil {
			return 0, errors.Wrap(err, "close segment")
		}
	}

	if consume {
		h.read++
		if err := l.writeHeader(dt, h); err != nil {
			return 0, errors.Wrap(err, "update header")
		}
	}

	return dt.Size, nil
}

// Count returns the number of buffered records for the type.
func (l *Log) Count(dt *types.DataType) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dt == nil {
		return 0, errors.ErrInvalidDescriptor
	}

	h, err := l.readHeader(dt)
	if err != nil {
		return 0, errors.Wrap(err, "read header")
	}

	return int(h.write - h.read), nil
}

// Clear deletes every file in the storage directory and recreates zeroed
// headers for all registered types.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.opts.Dir)
	if err != nil {
		return errors.Wrap(err, "read storage dir")
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(l.opts.Dir, entry.Name())); err != nil {
			return errors.Wrapf(err, "delete %s", entry.Name())
		}
	}

	for _, dt := range l.registry.Types() {
		if err := l.writeHeader(dt, header{}); err != nil {
			return errors.Wrapf(err, "reinit header for %s", dt.Name)
		}
	}

	l.log.Info("storage cleared")

	return nil
}

// BlockSize returns the block size resolved at Init.
func (l *Log) BlockSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockSize
}
