// Package buffer implements the volatile in-memory storage backend: one
// fixed-capacity circular byte buffer per registered data type, with
// overwrite-oldest eviction. Nothing survives a restart; this is the
// correct backend when durability is not required and allocation must be
// static and bounded.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/stash/internal/errors"
	"github.com/xtxerr/stash/internal/storage/types"
)

// ring is the per-type circular record buffer. read and write are
// monotonically increasing record counters; the storage position of an
// offset is offset % capacity. They are never reset except by Clear, so
// write-read is always the buffered count and both invariants
// (read <= write, write-read <= capacity) hold by construction.
type ring struct {
	data     []byte
	size     int // record size in bytes
	capacity uint32
	read     uint32
	write    uint32
}

func (rb *ring) count() int {
	return int(rb.write - rb.read)
}

func (rb *ring) slot(off uint32) []byte {
	pos := int(off%rb.capacity) * rb.size
	return rb.data[pos : pos+rb.size]
}

// RingBuffer is the volatile backend. It is safe for concurrent use; the
// coordinator is the only caller in steady state, but stats readers may
// query it from other goroutines.
type RingBuffer struct {
	mu       sync.Mutex
	registry *types.Registry
	capacity uint32
	rings    map[uint8]*ring

	// Statistics
	storeCount atomic.Int64
	evictCount atomic.Int64
}

// New creates a volatile backend holding up to capacity records per
// registered type.
func New(registry *types.Registry, capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		registry: registry,
		capacity: uint32(capacity),
		rings:    make(map[uint8]*ring),
	}
}

// Init allocates one circular buffer per registered type.
func (b *RingBuffer) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, dt := range b.registry.Types() {
		b.rings[dt.Tag] = &ring{
			data:     make([]byte, int(b.capacity)*dt.Size),
			size:     dt.Size,
			capacity: b.capacity,
		}
	}

	return nil
}

func (b *RingBuffer) ringFor(dt *types.DataType) (*ring, error) {
	if dt == nil {
		return nil, errors.ErrInvalidDescriptor
	}
	rb, ok := b.rings[dt.Tag]
	if !ok {
		return nil, errors.Wrap(errors.ErrTypeNotFound, dt.Name)
	}
	return rb, nil
}

// Store appends one record, discarding the oldest record of the type
// first when the buffer is full. Storing never fails due to capacity.
func (b *RingBuffer) Store(dt *types.DataType, rec []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, err := b.ringFor(dt)
	if err != nil {
		return err
	}
	if len(rec) != rb.size {
		return errors.Wrapf(errors.ErrSizeMismatch, "%s: got %d, want %d", dt.Name, len(rec), rb.size)
	}

	if rb.count() >= int(rb.capacity) {
		rb.read++
		b.evictCount.Add(1)
	}

	copy(rb.slot(rb.write), rec)
	rb.write++
	b.storeCount.Add(1)

	return nil
}

// Peek returns the size of the next unread record, copying it into out
// when out is non-nil.
func (b *RingBuffer) Peek(dt *types.DataType, out []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readLocked(dt, out, false)
}

// Retrieve is Peek plus advancing the read cursor.
func (b *RingBuffer) Retrieve(dt *types.DataType, out []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readLocked(dt, out, true)
}

func (b *RingBuffer) readLocked(dt *types.DataType, out []byte, consume bool) (int, error) {
	rb, err := b.ringFor(dt)
	if err != nil {
		return 0, err
	}

	if rb.count() == 0 {
		return 0, errors.ErrNoData
	}

	if out != nil {
		if len(out) < rb.size {
			return 0, errors.Wrapf(errors.ErrBufferTooSmall, "%s: need %d, have %d", dt.Name, rb.size, len(out))
		}
		copy(out, rb.slot(rb.read))
	}

	if consume {
		rb.read++
	}

	return rb.size, nil
}

// Count returns the number of buffered records for the type.
func (b *RingBuffer) Count(dt *types.DataType) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, err := b.ringFor(dt)
	if err != nil {
		return 0, err
	}
	return rb.count(), nil
}

// Clear resets every type to empty.
func (b *RingBuffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rb := range b.rings {
		rb.read = 0
		rb.write = 0
	}

	return nil
}

// Stats returns backend statistics.
func (b *RingBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, rb := range b.rings {
		total += rb.count()
	}

	return BufferStats{
		CapacityPerType: int(b.capacity),
		TotalRecords:    total,
		StoreCount:      b.storeCount.Load(),
		EvictCount:      b.evictCount.Load(),
	}
}

// BufferStats holds volatile backend statistics.
type BufferStats struct {
	CapacityPerType int
	TotalRecords    int
	StoreCount      int64
	EvictCount      int64
}
