// Package backend defines the persistence contract shared by all storage
// backends. The coordinator is written against this interface only; which
// concrete backend is active is a configuration choice.
package backend

import (
	"github.com/xtxerr/stash/internal/storage/types"
)

// Backend is the contract every persistence strategy implements.
//
// A backend holds an independent bounded log per registered data type.
// Capacity pressure is handled by policy, not as an error: Store must
// evict the oldest record of the type before failing, so storing never
// fails due to capacity alone. Cursors advance monotonically; a failed
// Store must not have advanced the write cursor.
type Backend interface {
	// Init allocates or mounts backend resources. Called exactly once,
	// before any other operation. Configuration and capacity problems
	// (a volume too small for the configured capacity, a record larger
	// than the filesystem block size) fail here, loudly, before any
	// data is accepted.
	Init() error

	// Store appends one record for the given type. rec is exactly
	// dt.Size bytes. If the type is at capacity the oldest record is
	// evicted first.
	Store(dt *types.DataType, rec []byte) error

	// Peek returns the size of the next unread record without consuming
	// it, copying the record into out when out is non-nil. A nil out is
	// a size-only query, used to size a transfer before committing to
	// it. Returns errors.ErrNoData if nothing is pending.
	Peek(dt *types.DataType, out []byte) (int, error)

	// Retrieve is Peek plus advancing the read cursor. Exactly one
	// record is consumed per call.
	Retrieve(dt *types.DataType, out []byte) (int, error)

	// Count returns the number of currently buffered records for the
	// type (write cursor minus read cursor).
	Count(dt *types.DataType) (int, error)

	// Clear resets every type to empty and destroys persisted state.
	Clear() error
}
