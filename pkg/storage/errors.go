package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDatabase matches every environment or I/O failure of a backend
	ErrDatabase = errors.New("database error")
	// ErrCorruptedState matches persisted data that violates the data model
	ErrCorruptedState = errors.New("corrupted state")
	// ErrImplementation matches programming errors
	ErrImplementation = errors.New("implementation error")
)

// DatabaseError wraps a backend failure. The whole unit of work should be
// rolled back.
type DatabaseError struct {
	Backend BackendType
	Op      string
	Table   string
	Err     error
}

// NewDatabaseError wraps err as a failure of op on table
func NewDatabaseError(backend BackendType, op, table string, err error) *DatabaseError {
	return &DatabaseError{Backend: backend, Op: op, Table: table, Err: err}
}

func (e *DatabaseError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s backend: %s %s: %v", e.Backend, e.Op, e.Table, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

func (e *DatabaseError) Is(target error) bool { return target == ErrDatabase }

// CorruptedStateError reports persisted data that cannot be turned back
// into a valid object. It is always fatal to the current load.
type CorruptedStateError struct {
	Table        string
	LayerRscID   *int
	VolumeNumber *int
	Value        string
	Reason       string
	Err          error
}

func (e *CorruptedStateError) Error() string {
	var ctx []string
	if e.Table != "" {
		ctx = append(ctx, "table "+e.Table)
	}
	if e.LayerRscID != nil {
		ctx = append(ctx, fmt.Sprintf("LayerRscId=%d", *e.LayerRscID))
	}
	if e.VolumeNumber != nil {
		ctx = append(ctx, fmt.Sprintf("VlmNr=%d", *e.VolumeNumber))
	}
	if e.Value != "" {
		ctx = append(ctx, fmt.Sprintf("value %q", e.Value))
	}
	msg := "corrupted state"
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptedStateError) Unwrap() error { return e.Err }

func (e *CorruptedStateError) Is(target error) bool { return target == ErrCorruptedState }

// Corrupted creates a CorruptedStateError for a layer object
func Corrupted(table string, layerRscID int, reason string, err error) *CorruptedStateError {
	id := layerRscID
	return &CorruptedStateError{Table: table, LayerRscID: &id, Reason: reason, Err: err}
}

// WithVolume adds the volume number to the error context
func (e *CorruptedStateError) WithVolume(nr int) *CorruptedStateError {
	e.VolumeNumber = &nr
	return e
}

// WithValue adds the offending raw value to the error context
func (e *CorruptedStateError) WithValue(v string) *CorruptedStateError {
	e.Value = v
	return e
}

// ImplementationError reports a defect. It should never occur in a
// correct program.
type ImplementationError struct {
	Msg string
	Err error
}

// NewImplementationError creates an ImplementationError with a formatted message
func NewImplementationError(format string, args ...any) *ImplementationError {
	return &ImplementationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ImplementationError) Error() string {
	if e.Err != nil {
		return "implementation error: " + e.Msg + ": " + e.Err.Error()
	}
	return "implementation error: " + e.Msg
}

func (e *ImplementationError) Unwrap() error { return e.Err }

func (e *ImplementationError) Is(target error) bool { return target == ErrImplementation }
