package types

import (
	"github.com/xtxerr/stash/internal/errors"
)

// TagUnknown is reserved; registered types must use a non-zero tag.
// The tag identifies a record's type in pipe framing and in data
// events, so it must be stable across restarts.
const TagUnknown uint8 = 0

// DataType describes one kind of producer sample the storage engine can
// handle. Descriptors are created once at startup and are immutable
// thereafter.
type DataType struct {
	// Name identifies the type and names its persistent files.
	Name string

	// Source identifies the producer module this type originates from.
	Source string

	// Tag is the wire identifier used in pipe item headers.
	Tag uint8

	// Size is the fixed record size in bytes. Every extracted record of
	// this type is exactly Size bytes.
	Size int

	// ShouldStore examines a raw producer message and decides whether its
	// data should be stored. Producers emit status and sample messages on
	// the same channel; only samples pass this filter.
	ShouldStore func(msg any) bool

	// Extract converts a raw producer message into the fixed-size record
	// representation. dst is always exactly Size bytes.
	Extract func(msg any, dst []byte)

	// Input delivers raw producer messages for this type. The coordinator
	// owns filtering and extraction, so producers need not know about
	// storage at all.
	Input <-chan any
}

// Registry is the startup-time catalog of data types. Registration order
// is preserved: flush and batch population process types in the order they
// were registered.
type Registry struct {
	maxTypes      int
	maxRecordSize int

	types  []*DataType
	byTag  map[uint8]*DataType
	byName map[string]*DataType
}

// NewRegistry creates a registry bounded by maxTypes registered types and
// maxRecordSize bytes per record. The record size bound is a single global
// limit used to size scratch buffers throughout the engine.
func NewRegistry(maxTypes, maxRecordSize int) *Registry {
	return &Registry{
		maxTypes:      maxTypes,
		maxRecordSize: maxRecordSize,
		byTag:         make(map[uint8]*DataType),
		byName:        make(map[string]*DataType),
	}
}

// Register adds a data type to the registry. Exceeding the configured
// maximums or registering an incomplete descriptor is a startup-fatal
// condition: resource exhaustion must be caught before the device enters
// steady state, not discovered later.
func (r *Registry) Register(dt *DataType) error {
	if dt == nil || dt.Name == "" {
		return errors.Wrap(errors.ErrInvalidDescriptor, "missing name")
	}
	if dt.Tag == TagUnknown {
		return errors.Wrapf(errors.ErrInvalidDescriptor, "%s: tag must be non-zero", dt.Name)
	}
	if dt.ShouldStore == nil || dt.Extract == nil {
		return errors.Wrapf(errors.ErrInvalidDescriptor, "%s: missing filter or extract function", dt.Name)
	}
	if dt.Size <= 0 {
		return errors.Wrapf(errors.ErrInvalidDescriptor, "%s: record size must be positive", dt.Name)
	}
	if dt.Size > r.maxRecordSize {
		return errors.Wrapf(errors.ErrRecordTooLarge, "%s: %d bytes, max %d", dt.Name, dt.Size, r.maxRecordSize)
	}
	if len(r.types) >= r.maxTypes {
		return errors.Wrapf(errors.ErrTooManyTypes, "max %d", r.maxTypes)
	}
	if _, ok := r.byName[dt.Name]; ok {
		return errors.Wrap(errors.ErrTypeExists, dt.Name)
	}
	if _, ok := r.byTag[dt.Tag]; ok {
		return errors.Wrapf(errors.ErrTypeExists, "tag %d", dt.Tag)
	}

	r.types = append(r.types, dt)
	r.byTag[dt.Tag] = dt
	r.byName[dt.Name] = dt

	return nil
}

// Types returns all registered types in registration order.
func (r *Registry) Types() []*DataType {
	return r.types
}

// Lookup returns the type registered under the given tag.
func (r *Registry) Lookup(tag uint8) (*DataType, bool) {
	dt, ok := r.byTag[tag]
	return dt, ok
}

// LookupName returns the type registered under the given name.
func (r *Registry) LookupName(name string) (*DataType, bool) {
	dt, ok := r.byName[name]
	return dt, ok
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.types)
}

// MaxRecordSize returns the configured global record size bound.
func (r *Registry) MaxRecordSize() int {
	return r.maxRecordSize
}
