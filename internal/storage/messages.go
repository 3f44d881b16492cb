package storage

import "github.com/xtxerr/stash/internal/errors"

// Mode is the coordinator operating mode.
type Mode int

const (
	// ModePassthrough republishes accepted records immediately without
	// persisting them.
	ModePassthrough Mode = iota

	// ModeBuffer persists accepted records in the active backend for a
	// later flush or batch drain.
	ModeBuffer
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePassthrough:
		return "passthrough"
	case ModeBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "passthrough":
		return ModePassthrough, nil
	case "buffer":
		return ModeBuffer, nil
	}
	return ModePassthrough, errors.Wrapf(errors.ErrInvalidConfig, "unknown mode %q", s)
}

// Event is a notification published by the coordinator. The concrete
// types below are the only implementations; fields are valid exactly
// for the variant carrying them.
type Event interface {
	isEvent()
}

// ModeChanged confirms a completed mode transition. Also published when
// the requested mode was already active.
type ModeChanged struct {
	Mode Mode
}

// ModeChangeRejected reports a refused mode transition.
type ModeChangeRejected struct {
	Requested Mode
	Reason    errors.RejectReason
}

// Data carries one extracted record, republished in passthrough mode or
// emitted by a flush.
type Data struct {
	Type    string
	Tag     uint8
	Payload []byte
}

// BatchAvailable reports a populated batch round: Items framed records
// are readable from the pipe, and MoreData tells the consumer another
// round is needed to drain the backlog.
type BatchAvailable struct {
	SessionID uint32
	Items     int
	MoreData  bool
}

// BatchEmpty reports that no records are buffered for the request.
type BatchEmpty struct {
	SessionID uint32
}

// BatchBusy reports that another session currently owns the pipe.
type BatchBusy struct {
	SessionID uint32
}

// BatchError reports an invalid or failed batch request.
type BatchError struct {
	SessionID uint32
}

func (ModeChanged) isEvent()        {}
func (ModeChangeRejected) isEvent() {}
func (Data) isEvent()               {}
func (BatchAvailable) isEvent()     {}
func (BatchEmpty) isEvent()         {}
func (BatchBusy) isEvent()          {}
func (BatchError) isEvent()         {}
