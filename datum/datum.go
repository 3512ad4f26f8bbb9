// Package datum implements the three-state data-handle abstraction that
// flows between tasks in a workflow graph: EMPTY, POPULATED, AVAILABLE.
package datum

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle stage of a Datum.
type State int

const (
	// Empty means no pointer has been assigned yet.
	Empty State = iota
	// Populated means a pointer has been assigned but its existence is unverified.
	Populated
	// Available means the pointer has been observed to exist at least once.
	Available
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Populated:
		return "POPULATED"
	case Available:
		return "AVAILABLE"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrInvalidFormat is returned by Populate when the backend rejects the pointer's format.
	ErrInvalidFormat = errors.New("datum: invalid pointer format")
	// ErrNotAvailable is returned by Verify when the backend cannot observe the value.
	ErrNotAvailable = errors.New("datum: value not available")
	// ErrNotPopulated is returned by Verify when called before Populate.
	ErrNotPopulated = errors.New("datum: verify called before populate")
)

// Backend supplies the implementation-specific logic behind a Datum: format
// validation, existence checking, cleanup and a cheap content hash. Concrete
// datum variants (in-memory, filesystem, ...) implement this and are not part
// of the core — see the data package for reference implementations.
type Backend interface {
	// ValidateFormat reports whether pointer is well-formed for this backend.
	ValidateFormat(pointer any) bool
	// VerifyAvailable reports whether the value referenced by pointer can be observed to exist.
	VerifyAvailable(pointer any) bool
	// ClearLogic releases/deletes the underlying value referenced by pointer, if owned.
	ClearLogic(pointer any)
	// Quickhash returns a short, non-cryptographic identity for pointer.
	Quickhash(pointer any) string
}

// Datum is a typed handle to a value that will exist at some point during
// workflow execution.
type Datum interface {
	// Populate assigns pointer and moves EMPTY->POPULATED. Idempotent when
	// pointer equals the already-assigned pointer.
	Populate(pointer any) error
	// Verify moves POPULATED->AVAILABLE, or is a no-op if already AVAILABLE.
	Verify() error
	// Clear invokes backend cleanup and resets state to EMPTY.
	Clear()
	// Hash returns the backend's identity hash for the current pointer, or "" if EMPTY.
	Hash() string
	// State reports the current lifecycle stage.
	State() State
	// Pointer returns the currently assigned pointer, or nil if EMPTY.
	Pointer() any
}

// Base implements the state-machine enforcement described in §4.1, delegating
// the format/existence/clear/hash logic to a Backend.
type Base struct {
	mu      sync.Mutex
	backend Backend
	pointer any
	state   State
}

// NewBase constructs an EMPTY Datum backed by the given implementation.
func NewBase(backend Backend) *Base {
	return &Base{backend: backend, state: Empty}
}

func (b *Base) Populate(pointer any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Empty {
		if pointerEqual(b.pointer, pointer) {
			return nil
		}
		return fmt.Errorf("datum: cannot populate from state %s with a different pointer", b.state)
	}
	if !b.backend.ValidateFormat(pointer) {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, pointer)
	}
	b.pointer = pointer
	b.state = Populated
	return nil
}

func (b *Base) Verify() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Available:
		return nil
	case Empty:
		return ErrNotPopulated
	}
	if !b.backend.VerifyAvailable(b.pointer) {
		return ErrNotAvailable
	}
	b.state = Available
	return nil
}

func (b *Base) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pointer != nil {
		b.backend.ClearLogic(b.pointer)
	}
	b.pointer = nil
	b.state = Empty
}

func (b *Base) Hash() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pointer == nil {
		return ""
	}
	return b.backend.Quickhash(b.pointer)
}

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) Pointer() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pointer
}

// pointerEqual compares two opaque pointers for the idempotent-populate check.
// Pointers are typically comparable scalars (strings, ints); formatting both
// sides avoids a panic on uncomparable types such as slices or maps.
func pointerEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}
