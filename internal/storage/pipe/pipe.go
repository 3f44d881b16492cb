// Package pipe provides the bounded FIFO byte channel that carries
// batch items from the storage coordinator to the consumer. Writes are
// all or nothing so a framed item is never split across a full pipe,
// and reads block with a deadline so a stalled producer cannot hang the
// consumer forever.
package pipe

import (
	"sync"
	"time"

	"github.com/xtxerr/stash/internal/errors"
)

// Pipe is a fixed-capacity byte FIFO safe for one writer and one reader
// running concurrently.
type Pipe struct {
	mu     sync.Mutex
	buf    []byte
	head   int // read position
	count  int // buffered bytes
	closed bool

	// replaced and closed on every state change to wake blocked readers
	notify chan struct{}
}

// New creates a pipe holding at most capacity bytes.
func New(capacity int) *Pipe {
	return &Pipe{
		buf:    make([]byte, capacity),
		notify: make(chan struct{}),
	}
}

// Capacity returns the total pipe size in bytes.
func (p *Pipe) Capacity() int {
	return len(p.buf)
}

// Len returns the number of buffered bytes.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Free returns the number of bytes a Write can currently accept.
func (p *Pipe) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf) - p.count
}

// Write appends data to the pipe. The write is all or nothing: if the
// free space cannot hold every byte, nothing is written and ErrPipeFull
// is returned.
func (p *Pipe) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.ErrPipeClosed
	}
	if len(data) > len(p.buf)-p.count {
		return errors.ErrPipeFull
	}

	tail := (p.head + p.count) % len(p.buf)
	n := copy(p.buf[tail:], data)
	if n < len(data) {
		copy(p.buf, data[n:])
	}
	p.count += len(data)

	p.wake()

	return nil
}

// ReadFull fills out completely, blocking up to timeout for enough bytes
// to arrive. On timeout it returns ErrNoData with nothing consumed; a
// partial read never happens.
func (p *Pipe) ReadFull(out []byte, timeout time.Duration) error {
	if len(out) == 0 {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		if p.count >= len(out) {
			n := copy(out, p.buf[p.head:])
			if n < len(out) {
				copy(out[n:], p.buf)
			}
			p.head = (p.head + len(out)) % len(p.buf)
			p.count -= len(out)
			p.wake()
			p.mu.Unlock()
			return nil
		}
		if p.closed {
			p.mu.Unlock()
			return errors.ErrPipeClosed
		}
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
		case <-deadline.C:
			return errors.ErrNoData
		}
	}
}

// Drain discards all buffered bytes.
func (p *Pipe) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.head = 0
	p.count = 0
	p.wake()
}

// Close marks the pipe closed. Buffered bytes stay readable until a
// ReadFull needs more than remain, which then fails with ErrPipeClosed.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.wake()
}

func (p *Pipe) wake() {
	close(p.notify)
	p.notify = make(chan struct{})
}
