package types

import (
	"testing"

	"github.com/xtxerr/stash/internal/errors"
)

func descriptor(name string, tag uint8, size int) *DataType {
	return &DataType{
		Name:        name,
		Source:      "test",
		Tag:         tag,
		Size:        size,
		ShouldStore: func(any) bool { return true },
		Extract:     func(any, []byte) {},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry(4, 64)

	if err := reg.Register(descriptor("battery", 1, 8)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(descriptor("location", 2, 24)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}

	dt, ok := reg.Lookup(1)
	if !ok || dt.Name != "battery" {
		t.Errorf("Lookup(1) = %v, %v", dt, ok)
	}

	dt, ok = reg.LookupName("location")
	if !ok || dt.Tag != 2 {
		t.Errorf("LookupName(location) = %v, %v", dt, ok)
	}

	if _, ok := reg.Lookup(9); ok {
		t.Error("Lookup(9) succeeded for an unregistered tag")
	}
}

func TestRegistrationOrderPreserved(t *testing.T) {
	reg := NewRegistry(4, 64)

	names := []string{"c", "a", "b"}
	for i, name := range names {
		if err := reg.Register(descriptor(name, uint8(i+1), 8)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	for i, dt := range reg.Types() {
		if dt.Name != names[i] {
			t.Errorf("Types()[%d] = %s, want %s", i, dt.Name, names[i])
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry(2, 16)

	if err := reg.Register(descriptor("", 1, 8)); !errors.Is(err, errors.ErrInvalidDescriptor) {
		t.Errorf("empty name: err = %v, want ErrInvalidDescriptor", err)
	}

	if err := reg.Register(descriptor("zero", TagUnknown, 8)); !errors.Is(err, errors.ErrInvalidDescriptor) {
		t.Errorf("zero tag: err = %v, want ErrInvalidDescriptor", err)
	}

	bad := descriptor("nofuncs", 1, 8)
	bad.ShouldStore = nil
	if err := reg.Register(bad); !errors.Is(err, errors.ErrInvalidDescriptor) {
		t.Errorf("missing filter: err = %v, want ErrInvalidDescriptor", err)
	}

	if err := reg.Register(descriptor("huge", 1, 32)); !errors.Is(err, errors.ErrRecordTooLarge) {
		t.Errorf("oversized record: err = %v, want ErrRecordTooLarge", err)
	}
}

func TestRegisterDuplicates(t *testing.T) {
	reg := NewRegistry(4, 64)

	if err := reg.Register(descriptor("battery", 1, 8)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.Register(descriptor("battery", 2, 8)); !errors.Is(err, errors.ErrTypeExists) {
		t.Errorf("duplicate name: err = %v, want ErrTypeExists", err)
	}
	if err := reg.Register(descriptor("other", 1, 8)); !errors.Is(err, errors.ErrTypeExists) {
		t.Errorf("duplicate tag: err = %v, want ErrTypeExists", err)
	}
}

func TestRegisterTooManyTypes(t *testing.T) {
	reg := NewRegistry(2, 64)

	for i := 1; i <= 2; i++ {
		if err := reg.Register(descriptor(string(rune('a'+i)), uint8(i), 8)); err != nil {
			t.Fatalf("Register(%d) error = %v", i, err)
		}
	}

	if err := reg.Register(descriptor("overflow", 3, 8)); !errors.Is(err, errors.ErrTooManyTypes) {
		t.Errorf("over limit: err = %v, want ErrTooManyTypes", err)
	}
}
