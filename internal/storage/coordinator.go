package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/stash/internal/errors"
	"github.com/xtxerr/stash/internal/logging"
	"github.com/xtxerr/stash/internal/storage/backend"
	"github.com/xtxerr/stash/internal/storage/config"
	"github.com/xtxerr/stash/internal/storage/pipe"
	"github.com/xtxerr/stash/internal/storage/stats"
	"github.com/xtxerr/stash/internal/storage/types"
)

// Coordinator owns the mode state machine and the batch protocol. It is
// the only component producers and the consumer talk to directly.
//
// All state lives in a single run goroutine fed by a command mailbox,
// so there is no lock around the mode or the session: producers and the
// consumer serialize by posting commands. The batch pipe is the one
// exception, shared between the run goroutine (writer) and the consumer
// (reader) with its own internal synchronization.
type Coordinator struct {
	cfg      *config.Config
	registry *types.Registry
	backend  backend.Backend
	pipe     *pipe.Pipe
	tracker  *stats.Tracker
	log      *slog.Logger

	// run goroutine state, never touched from outside the loop
	mode    Mode
	session *session
	scratch []byte

	commands chan command
	events   chan Event

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// command is the mailbox unit. One variant per external request plus
// the internal producer input and timer variants.
type command interface {
	isCommand()
}

type cmdInput struct {
	dt  *types.DataType
	msg any
}

type cmdMode struct {
	mode Mode
}

type cmdBatchRequest struct {
	sessionID uint32
}

type cmdBatchClose struct {
	sessionID uint32
}

type cmdFlush struct {
	done chan error
}

type cmdClear struct {
	done chan error
}

type cmdSessionExpired struct {
	sessionID uint32
}

func (cmdInput) isCommand()          {}
func (cmdMode) isCommand()           {}
func (cmdBatchRequest) isCommand()   {}
func (cmdBatchClose) isCommand()     {}
func (cmdFlush) isCommand()          {}
func (cmdClear) isCommand()          {}
func (cmdSessionExpired) isCommand() {}

// New creates a coordinator over the given backend. The backend must
// already be initialized.
func New(cfg *config.Config, registry *types.Registry, be backend.Backend, tracker *stats.Tracker) (*Coordinator, error) {
	initial, err := ParseMode(cfg.Mode.Initial)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		backend:  be,
		pipe:     pipe.New(cfg.Batch.PipeSize),
		tracker:  tracker,
		log:      logging.Component("coordinator"),
		mode:     initial,
		scratch:  make([]byte, registry.MaxRecordSize()),
		commands: make(chan command, 64),
		events:   make(chan Event, 16),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the run loop and one forwarder per registered input
// channel.
func (c *Coordinator) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.ErrInvalidState
	}

	c.wg.Add(1)
	go c.run()

	for _, dt := range c.registry.Types() {
		if dt.Input == nil {
			continue
		}
		c.wg.Add(1)
		go c.forward(dt)
	}

	c.log.Info("coordinator started", "mode", c.mode.String(), "types", c.registry.Len())

	return nil
}

// Stop shuts the coordinator down and waits for the run loop to exit.
func (c *Coordinator) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	c.cancel()
	c.pipe.Close()
	c.wg.Wait()
	close(c.events)

	c.log.Info("coordinator stopped")

	return nil
}

// Events returns the outbound notification channel. Closed by Stop.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// RequestMode posts a mode change request. The outcome arrives on the
// event channel as ModeChanged or ModeChangeRejected.
func (c *Coordinator) RequestMode(mode Mode) error {
	return c.post(cmdMode{mode: mode})
}

// RequestBatch posts a batch request for the given session. The outcome
// arrives as BatchAvailable, BatchEmpty, BatchBusy or BatchError.
func (c *Coordinator) RequestBatch(sessionID uint32) error {
	return c.post(cmdBatchRequest{sessionID: sessionID})
}

// CloseBatch ends the session with the given id. A non-matching id is
// ignored.
func (c *Coordinator) CloseBatch(sessionID uint32) error {
	return c.post(cmdBatchClose{sessionID: sessionID})
}

// Flush drains every stored record as Data events, oldest first per
// type, types in registration order. Blocks until the drain completes.
func (c *Coordinator) Flush() error {
	done := make(chan error, 1)
	if err := c.post(cmdFlush{done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-c.ctx.Done():
		return errors.ErrNotRunning
	}
}

// Clear wipes all stored data. Rejected with ErrSessionActive while a
// batch session is open.
func (c *Coordinator) Clear() error {
	done := make(chan error, 1)
	if err := c.post(cmdClear{done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-c.ctx.Done():
		return errors.ErrNotRunning
	}
}

// Stats returns operation counters plus current per-type record counts.
func (c *Coordinator) Stats() (stats.Snapshot, map[string]int) {
	snap := c.tracker.Snapshot()

	counts := make(map[string]int, c.registry.Len())
	for _, dt := range c.registry.Types() {
		n, err := c.backend.Count(dt)
		if err != nil {
			continue
		}
		counts[dt.Name] = n
	}

	return snap, counts
}

func (c *Coordinator) post(cmd command) error {
	if !c.running.Load() {
		return errors.ErrNotRunning
	}
	select {
	case c.commands <- cmd:
		return nil
	case <-c.ctx.Done():
		return errors.ErrNotRunning
	}
}

func (c *Coordinator) forward(dt *types.DataType) {
	defer c.wg.Done()

	for {
		select {
		case msg, ok := <-dt.Input:
			if !ok {
				return
			}
			select {
			case c.commands <- cmdInput{dt: dt, msg: msg}:
			case <-c.ctx.Done():
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	for {
		select {
		case cmd := <-c.commands:
			c.handle(cmd)
		case <-c.ctx.Done():
			c.endSession("shutdown")
			return
		}
	}
}

func (c *Coordinator) handle(cmd command) {
	switch cmd := cmd.(type) {
	case cmdInput:
		c.handleInput(cmd.dt, cmd.msg)
	case cmdMode:
		c.handleMode(cmd.mode)
	case cmdBatchRequest:
		c.handleBatchRequest(cmd.sessionID)
	case cmdBatchClose:
		c.handleBatchClose(cmd.sessionID)
	case cmdFlush:
		cmd.done <- c.handleFlush()
	case cmdClear:
		cmd.done <- c.handleClear()
	case cmdSessionExpired:
		c.handleSessionExpired(cmd.sessionID)
	}
}

func (c *Coordinator) handleInput(dt *types.DataType, msg any) {
	if !dt.ShouldStore(msg) {
		return
	}

	rec := c.scratch[:dt.Size]
	dt.Extract(msg, rec)

	if c.mode == ModePassthrough {
		payload := make([]byte, len(rec))
		copy(payload, rec)
		c.publish(Data{Type: dt.Name, Tag: dt.Tag, Payload: payload})
		return
	}

	start := time.Now()
	if err := c.backend.Store(dt, rec); err != nil {
		c.log.Error("store failed", "type", dt.Name, "error", err)
		c.tracker.RecordDrop(dt.Name)
		return
	}
	c.tracker.RecordStore(dt.Name, time.Since(start))
}

func (c *Coordinator) handleMode(requested Mode) {
	if requested == c.mode {
		c.publish(ModeChanged{Mode: c.mode})
		return
	}

	if requested == ModePassthrough && c.session != nil {
		c.log.Warn("mode change rejected", "requested", requested.String(), "reason", errors.RejectBatchActive.String())
		c.publish(ModeChangeRejected{Requested: requested, Reason: errors.RejectBatchActive})
		return
	}

	c.log.Info("mode changed", "from", c.mode.String(), "to", requested.String())
	c.mode = requested
	c.publish(ModeChanged{Mode: c.mode})
}

func (c *Coordinator) handleFlush() error {
	if c.session != nil {
		c.log.Warn("flush rejected while batch session open", "session_id", c.session.id)
		return errors.ErrSessionActive
	}

	total := 0
	for _, dt := range c.registry.Types() {
		rec := c.scratch[:dt.Size]
		for {
			_, err := c.backend.Retrieve(dt, rec)
			if errors.IsNoData(err) {
				break
			}
			if err != nil {
				return errors.Wrapf(err, "flush %s", dt.Name)
			}

			payload := make([]byte, len(rec))
			copy(payload, rec)
			c.publish(Data{Type: dt.Name, Tag: dt.Tag, Payload: payload})
			c.tracker.RecordRetrieve(dt.Name)
			total++
		}
	}

	c.log.Info("flush complete", "records", total)

	return nil
}

func (c *Coordinator) handleClear() error {
	if c.session != nil {
		c.log.Warn("clear rejected while batch session open", "session_id", c.session.id)
		return errors.ErrSessionActive
	}

	if err := c.backend.Clear(); err != nil {
		return err
	}

	c.log.Info("storage cleared")

	return nil
}

// publish sends an event without letting a stalled subscriber wedge the
// run loop. Events dropped on timeout are logged and lost.
func (c *Coordinator) publish(ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(c.cfg.Mode.PublishTimeout)
	defer timer.Stop()

	select {
	case c.events <- ev:
	case <-timer.C:
		c.log.Warn("event dropped, subscriber too slow", "event", eventName(ev))
	case <-c.ctx.Done():
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case ModeChanged:
		return "mode_changed"
	case ModeChangeRejected:
		return "mode_change_rejected"
	case Data:
		return "data"
	case BatchAvailable:
		return "batch_available"
	case BatchEmpty:
		return "batch_empty"
	case BatchBusy:
		return "batch_busy"
	case BatchError:
		return "batch_error"
	default:
		return "unknown"
	}
}
