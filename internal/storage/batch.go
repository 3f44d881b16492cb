package storage

import (
	"encoding/binary"
	"time"

	"github.com/xtxerr/stash/internal/errors"
)

// Pipe item framing: one tag byte and a little-endian u16 payload size
// ahead of each record.
const itemHeaderSize = 3

// A write into the pipe is pre-checked against free space, so a full
// pipe during population is a consumer racing a Drain, not a normal
// condition. Retry briefly, then give up on the round.
const (
	pipeWriteRetries = 3
	pipeWriteBackoff = 10 * time.Millisecond
)

// session is the state of one open batch interaction. At most one
// exists at a time; only the run goroutine touches it.
type session struct {
	id        uint32
	itemsSent int
	moreData  bool
	expiry    *time.Timer
}

// Item is one framed record read back from the batch pipe.
type Item struct {
	Type    string
	Tag     uint8
	Payload []byte
}

func (c *Coordinator) handleBatchRequest(sessionID uint32) {
	if c.mode != ModeBuffer {
		c.log.Warn("batch request outside buffer mode", "session_id", sessionID)
		c.publish(BatchError{SessionID: sessionID})
		return
	}

	if sessionID == 0 {
		c.log.Warn("batch request with zero session id")
		c.publish(BatchError{SessionID: sessionID})
		return
	}

	if c.session != nil && c.session.id != sessionID {
		c.log.Debug("batch busy", "active", c.session.id, "requested", sessionID)
		c.publish(BatchBusy{SessionID: sessionID})
		return
	}

	total := 0
	for _, dt := range c.registry.Types() {
		n, err := c.backend.Count(dt)
		if err != nil {
			c.log.Error("count failed", "type", dt.Name, "error", err)
			c.endSession("count failure")
			c.publish(BatchError{SessionID: sessionID})
			return
		}
		total += n
	}

	if total == 0 {
		c.publish(BatchEmpty{SessionID: sessionID})
		return
	}

	if c.session == nil {
		c.session = &session{id: sessionID}
		c.log.Info("batch session opened", "session_id", sessionID, "pending", total)
	}
	c.armSessionTimer()

	// stale bytes from a previous round the consumer never read
	c.pipe.Drain()

	items, moreData, err := c.populatePipe()
	if err != nil {
		c.log.Error("batch population failed", "session_id", sessionID, "error", err)
		c.endSession("population failure")
		c.publish(BatchError{SessionID: sessionID})
		return
	}

	c.session.itemsSent += items
	c.session.moreData = moreData

	c.log.Debug("batch populated",
		"session_id", sessionID,
		"items", items,
		"more_data", moreData)

	c.publish(BatchAvailable{SessionID: sessionID, Items: items, MoreData: moreData})
}

// populatePipe moves records from the backend into the pipe, oldest
// first per type, types in registration order. A record is only
// retrieved once its framed size is known to fit the remaining pipe
// space; retrieval is destructive, so fit is checked with peek first.
func (c *Coordinator) populatePipe() (items int, moreData bool, err error) {
	item := make([]byte, itemHeaderSize+c.registry.MaxRecordSize())

	for _, dt := range c.registry.Types() {
		for {
			size, err := c.backend.Peek(dt, nil)
			if errors.IsNoData(err) {
				break
			}
			if err != nil {
				return items, moreData, errors.Wrapf(err, "peek %s", dt.Name)
			}

			if itemHeaderSize+size > c.pipe.Free() {
				moreData = true
				break
			}

			n, err := c.backend.Retrieve(dt, item[itemHeaderSize:])
			if err != nil {
				return items, moreData, errors.Wrapf(err, "retrieve %s", dt.Name)
			}
			c.tracker.RecordRetrieve(dt.Name)

			item[0] = dt.Tag
			binary.LittleEndian.PutUint16(item[1:3], uint16(n))

			if err := c.writePipe(item[:itemHeaderSize+n]); err != nil {
				// the record is already consumed from the backend
				c.tracker.RecordDrop(dt.Name)
				return items, moreData, errors.Wrapf(err, "pipe write %s", dt.Name)
			}

			items++
		}
	}

	return items, moreData, nil
}

func (c *Coordinator) writePipe(data []byte) error {
	var err error
	for attempt := 0; attempt < pipeWriteRetries; attempt++ {
		err = c.pipe.Write(data)
		if !errors.Is(err, errors.ErrPipeFull) {
			return err
		}
		time.Sleep(pipeWriteBackoff)
	}
	return err
}

func (c *Coordinator) handleBatchClose(sessionID uint32) {
	if c.session == nil {
		c.log.Debug("batch close with no session", "session_id", sessionID)
		return
	}
	if c.session.id != sessionID {
		c.log.Debug("batch close with wrong session id",
			"active", c.session.id, "requested", sessionID)
		return
	}

	c.endSession("closed by consumer")
}

func (c *Coordinator) handleSessionExpired(sessionID uint32) {
	if c.session == nil || c.session.id != sessionID {
		return
	}

	c.log.Warn("batch session expired", "session_id", sessionID, "timeout", c.cfg.Batch.SessionTimeout)
	c.endSession("idle timeout")
}

// armSessionTimer starts or restarts the idle expiry for the current
// session. A zero timeout disables expiry entirely.
func (c *Coordinator) armSessionTimer() {
	timeout := c.cfg.Batch.SessionTimeout
	if timeout <= 0 {
		return
	}

	if c.session.expiry != nil {
		c.session.expiry.Stop()
	}

	id := c.session.id
	c.session.expiry = time.AfterFunc(timeout, func() {
		select {
		case c.commands <- cmdSessionExpired{sessionID: id}:
		case <-c.ctx.Done():
		}
	})
}

func (c *Coordinator) endSession(reason string) {
	if c.session == nil {
		return
	}

	if c.session.expiry != nil {
		c.session.expiry.Stop()
	}
	c.pipe.Drain()

	c.log.Info("batch session ended",
		"session_id", c.session.id,
		"items_sent", c.session.itemsSent,
		"reason", reason)

	c.session = nil
}

// BatchRead pulls one framed item from the pipe, blocking up to timeout
// for the header to arrive. Returns ErrNoData when nothing arrives in
// time, which is the expected idle condition rather than a failure.
//
// Called from the consumer goroutine, not the run loop.
func (c *Coordinator) BatchRead(timeout time.Duration) (Item, error) {
	var hdr [itemHeaderSize]byte
	if err := c.pipe.ReadFull(hdr[:], timeout); err != nil {
		return Item{}, err
	}

	tag := hdr[0]
	size := int(binary.LittleEndian.Uint16(hdr[1:3]))

	dt, ok := c.registry.Lookup(tag)
	if !ok {
		return Item{}, errors.Wrapf(errors.ErrCorrupted, "unknown tag %d in pipe", tag)
	}
	if size != dt.Size {
		return Item{}, errors.Wrapf(errors.ErrCorrupted,
			"%s: framed size %d, expected %d", dt.Name, size, dt.Size)
	}

	payload := make([]byte, size)
	if err := c.pipe.ReadFull(payload, timeout); err != nil {
		return Item{}, err
	}

	return Item{Type: dt.Name, Tag: tag, Payload: payload}, nil
}
