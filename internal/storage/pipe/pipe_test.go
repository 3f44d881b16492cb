package pipe

import (
	"bytes"
	"testing"
	"time"

	"github.com/xtxerr/stash/internal/errors"
)

func TestWriteRead(t *testing.T) {
	p := New(16)

	if err := p.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if p.Len() != 5 {
		t.Errorf("Len() = %d, want 5", p.Len())
	}
	if p.Free() != 11 {
		t.Errorf("Free() = %d, want 11", p.Free())
	}

	out := make([]byte, 5)
	if err := p.ReadFull(out, time.Second); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if !bytes.Equal(out, []byte("hello")) {
		t.Errorf("ReadFull() = %q, want %q", out, "hello")
	}
	if p.Len() != 0 {
		t.Errorf("Len() after read = %d, want 0", p.Len())
	}
}

func TestWriteFullRejected(t *testing.T) {
	p := New(8)

	if err := p.Write(make([]byte, 6)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// 3 bytes do not fit in the 2 free, and nothing is partially written
	if err := p.Write([]byte{1, 2, 3}); !errors.Is(err, errors.ErrPipeFull) {
		t.Errorf("Write() = %v, want ErrPipeFull", err)
	}
	if p.Len() != 6 {
		t.Errorf("Len() after rejected write = %d, want 6", p.Len())
	}

	if err := p.Write([]byte{1, 2}); err != nil {
		t.Errorf("Write() exact fit error = %v", err)
	}
}

func TestReadTimeout(t *testing.T) {
	p := New(8)

	start := time.Now()
	err := p.ReadFull(make([]byte, 4), 20*time.Millisecond)
	if !errors.Is(err, errors.ErrNoData) {
		t.Errorf("ReadFull() = %v, want ErrNoData", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("ReadFull() returned before the deadline")
	}
}

func TestReadBlocksUntilWrite(t *testing.T) {
	p := New(8)

	done := make(chan error, 1)
	out := make([]byte, 4)
	go func() {
		done <- p.ReadFull(out, time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := p.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Errorf("ReadFull() = %v, want [1 2 3 4]", out)
	}
}

func TestWrapAround(t *testing.T) {
	p := New(8)
	out := make([]byte, 6)

	// shift the head so the next write wraps
	if err := p.Write([]byte{0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := p.ReadFull(out, time.Second); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}

	want := []byte{10, 11, 12, 13, 14, 15}
	if err := p.Write(want); err != nil {
		t.Fatalf("Write() wrapping error = %v", err)
	}
	if err := p.ReadFull(out, time.Second); err != nil {
		t.Fatalf("ReadFull() wrapping error = %v", err)
	}
	if !bytes.Equal(out, want) {
		t.Errorf("ReadFull() = %v, want %v", out, want)
	}
}

func TestDrain(t *testing.T) {
	p := New(8)

	if err := p.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	p.Drain()

	if p.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", p.Len())
	}
	if p.Free() != 8 {
		t.Errorf("Free() after Drain = %d, want 8", p.Free())
	}
}

func TestClose(t *testing.T) {
	p := New(8)

	if err := p.Write([]byte{1, 2}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	p.Close()

	if err := p.Write([]byte{3}); !errors.Is(err, errors.ErrPipeClosed) {
		t.Errorf("Write() after Close = %v, want ErrPipeClosed", err)
	}

	// buffered bytes remain readable
	out := make([]byte, 2)
	if err := p.ReadFull(out, time.Second); err != nil {
		t.Fatalf("ReadFull() after Close error = %v", err)
	}

	if err := p.ReadFull(out, time.Second); !errors.Is(err, errors.ErrPipeClosed) {
		t.Errorf("ReadFull() on closed empty pipe = %v, want ErrPipeClosed", err)
	}
}

func TestCloseWakesBlockedReader(t *testing.T) {
	p := New(8)

	done := make(chan error, 1)
	go func() {
		done <- p.ReadFull(make([]byte, 4), time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		if !errors.Is(err, errors.ErrPipeClosed) {
			t.Errorf("ReadFull() = %v, want ErrPipeClosed", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("blocked reader not woken by Close")
	}
}
