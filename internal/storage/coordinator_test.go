package storage

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/xtxerr/stash/internal/errors"
	"github.com/xtxerr/stash/internal/storage/backend"
	"github.com/xtxerr/stash/internal/storage/buffer"
	"github.com/xtxerr/stash/internal/storage/config"
	"github.com/xtxerr/stash/internal/storage/stats"
	"github.com/xtxerr/stash/internal/storage/types"
)

type testEnv struct {
	coord *Coordinator
	input chan any
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode.PublishTimeout = time.Second
	cfg.Batch.SessionTimeout = 0
	return cfg
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	return newTestEnvBackend(t, cfg, nil)
}

// newTestEnvBackend builds the standard single-type environment, with an
// optional wrapper around the ring buffer backend for fault injection.
func newTestEnvBackend(t *testing.T, cfg *config.Config, wrap func(backend.Backend) backend.Backend) *testEnv {
	t.Helper()

	input := make(chan any, 32)

	reg := types.NewRegistry(cfg.Buffer.MaxTypes, cfg.Buffer.MaxRecordSize)
	err := reg.Register(&types.DataType{
		Name:   "battery",
		Source: "test",
		Tag:    1,
		Size:   8,
		Input:  input,
		ShouldStore: func(msg any) bool {
			_, ok := msg.(uint64)
			return ok
		},
		Extract: func(msg any, dst []byte) {
			binary.LittleEndian.PutUint64(dst, msg.(uint64))
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var be backend.Backend = buffer.New(reg, cfg.Buffer.CapacityPerType)
	if err := be.Init(); err != nil {
		t.Fatalf("backend Init() error = %v", err)
	}
	if wrap != nil {
		be = wrap(be)
	}

	tracker, err := stats.New(false, 0)
	if err != nil {
		t.Fatalf("stats.New() error = %v", err)
	}

	coord, err := New(cfg, reg, be, tracker)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := coord.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { coord.Stop() })

	return &testEnv{coord: coord, input: input}
}

func (e *testEnv) waitEvent(t *testing.T) Event {
	t.Helper()

	select {
	case ev := <-e.coord.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// waitStored polls until n records have been accepted by the backend.
func (e *testEnv) waitStored(t *testing.T, n int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := e.coord.Stats()
		if snap.Stored["battery"] >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	snap, _ := e.coord.Stats()
	t.Fatalf("stored %d records, want %d", snap.Stored["battery"], n)
}

func TestPassthroughRepublishes(t *testing.T) {
	cfg := testConfig()
	cfg.Mode.Initial = "passthrough"
	env := newTestEnv(t, cfg)

	env.input <- uint64(42)

	ev := env.waitEvent(t)
	data, ok := ev.(Data)
	if !ok {
		t.Fatalf("event = %T, want Data", ev)
	}
	if data.Type != "battery" || data.Tag != 1 {
		t.Errorf("Data{%s, %d}, want {battery, 1}", data.Type, data.Tag)
	}
	if got := binary.LittleEndian.Uint64(data.Payload); got != 42 {
		t.Errorf("payload = %d, want 42", got)
	}

	// nothing persisted
	_, counts := env.coord.Stats()
	if counts["battery"] != 0 {
		t.Errorf("backend count = %d in passthrough, want 0", counts["battery"])
	}
}

func TestPassthroughFiltersRejectedMessages(t *testing.T) {
	cfg := testConfig()
	cfg.Mode.Initial = "passthrough"
	env := newTestEnv(t, cfg)

	env.input <- "not a sample"
	env.input <- uint64(7)

	ev := env.waitEvent(t)
	data, ok := ev.(Data)
	if !ok {
		t.Fatalf("event = %T, want Data", ev)
	}
	if got := binary.LittleEndian.Uint64(data.Payload); got != 7 {
		t.Errorf("payload = %d, want 7 (filtered message leaked through)", got)
	}
}

func TestModeTransitions(t *testing.T) {
	cfg := testConfig()
	cfg.Mode.Initial = "passthrough"
	env := newTestEnv(t, cfg)

	if err := env.coord.RequestMode(ModeBuffer); err != nil {
		t.Fatalf("RequestMode() error = %v", err)
	}
	ev := env.waitEvent(t)
	changed, ok := ev.(ModeChanged)
	if !ok {
		t.Fatalf("event = %T, want ModeChanged", ev)
	}
	if changed.Mode != ModeBuffer {
		t.Errorf("Mode = %v, want buffer", changed.Mode)
	}

	// requesting the current mode is confirmed, not rejected
	if err := env.coord.RequestMode(ModeBuffer); err != nil {
		t.Fatalf("RequestMode() error = %v", err)
	}
	ev = env.waitEvent(t)
	if changed, ok := ev.(ModeChanged); !ok || changed.Mode != ModeBuffer {
		t.Errorf("event = %#v, want ModeChanged{buffer}", ev)
	}

	if err := env.coord.RequestMode(ModePassthrough); err != nil {
		t.Fatalf("RequestMode() error = %v", err)
	}
	ev = env.waitEvent(t)
	if changed, ok := ev.(ModeChanged); !ok || changed.Mode != ModePassthrough {
		t.Errorf("event = %#v, want ModeChanged{passthrough}", ev)
	}
}

func TestBufferModeStores(t *testing.T) {
	cfg := testConfig()
	cfg.Mode.Initial = "buffer"
	env := newTestEnv(t, cfg)

	for i := 0; i < 3; i++ {
		env.input <- uint64(i)
	}
	env.waitStored(t, 3)

	_, counts := env.coord.Stats()
	if counts["battery"] != 3 {
		t.Errorf("backend count = %d, want 3", counts["battery"])
	}
}

func TestFlushEmitsOldestFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Mode.Initial = "buffer"
	env := newTestEnv(t, cfg)

	for i := 0; i < 5; i++ {
		env.input <- uint64(i)
	}
	env.waitStored(t, 5)

	flushDone := make(chan error, 1)
	go func() { flushDone <- env.coord.Flush() }()

	for want := 0; want < 5; want++ {
		ev := env.waitEvent(t)
		data, ok := ev.(Data)
		if !ok {
			t.Fatalf("event = %T, want Data", ev)
		}
		if got := binary.LittleEndian.Uint64(data.Payload); got != uint64(want) {
			t.Errorf("flush record = %d, want %d", got, want)
		}
	}

	if err := <-flushDone; err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	_, counts := env.coord.Stats()
	if counts["battery"] != 0 {
		t.Errorf("backend count after flush = %d, want 0", counts["battery"])
	}
}

func TestFlushAfterEviction(t *testing.T) {
	// capacity 16, 20 stores: flush emits exactly records 4..19
	cfg := testConfig()
	cfg.Mode.Initial = "buffer"
	cfg.Buffer.CapacityPerType = 16
	env := newTestEnv(t, cfg)

	for i := 0; i < 20; i++ {
		env.input <- uint64(i)
	}
	env.waitStored(t, 20)

	flushDone := make(chan error, 1)
	go func() { flushDone <- env.coord.Flush() }()

	for want := 4; want < 20; want++ {
		ev := env.waitEvent(t)
		data, ok := ev.(Data)
		if !ok {
			t.Fatalf("event = %T, want Data", ev)
		}
		if got := binary.LittleEndian.Uint64(data.Payload); got != uint64(want) {
			t.Errorf("flush record = %d, want %d", got, want)
		}
	}

	if err := <-flushDone; err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// exactly 16 events, no extras
	select {
	case ev := <-env.coord.Events():
		t.Errorf("unexpected event after flush: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClear(t *testing.T) {
	cfg := testConfig()
	cfg.Mode.Initial = "buffer"
	env := newTestEnv(t, cfg)

	for i := 0; i < 3; i++ {
		env.input <- uint64(i)
	}
	env.waitStored(t, 3)

	if err := env.coord.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	_, counts := env.coord.Stats()
	if counts["battery"] != 0 {
		t.Errorf("backend count after clear = %d, want 0", counts["battery"])
	}
}

func TestStopRejectsFurtherCommands(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)

	if err := env.coord.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := env.coord.RequestMode(ModeBuffer); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("RequestMode() after Stop = %v, want ErrNotRunning", err)
	}
	if err := env.coord.Stop(); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}
}
