// Package txn provides transactional in-memory values.
package txn

import (
	"errors"
	"sync"
)

var (
	// ErrNoTransaction is returned by Set when no transaction is active
	ErrNoTransaction = errors.New("no active transaction")
	// ErrClosed is returned when changing a closed value
	ErrClosed = errors.New("value is closed")
)

// Value is a value whose changes are staged until Commit. Readers outside
// the transaction see the committed value.
type Value[T any] struct {
	mu        sync.Mutex
	committed T
	staged    T
	active    bool
	dirty     bool
	closed    bool
}

// NewValue creates a Value holding initial as committed value
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{committed: initial}
}

// Begin starts a transaction. Beginning twice is a no-op.
func (v *Value[T]) Begin() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		v.active = true
		v.dirty = false
	}
}

// Set stages a new value
func (v *Value[T]) Set(val T) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if !v.active {
		return ErrNoTransaction
	}
	v.staged = val
	v.dirty = true
	return nil
}

// Get returns the committed value
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.committed
}

// Pending returns the staged value if one was set in the active
// transaction, else the committed value
func (v *Value[T]) Pending() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active && v.dirty {
		return v.staged
	}
	return v.committed
}

// Commit makes the staged value visible and ends the transaction
func (v *Value[T]) Commit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active && v.dirty {
		v.committed = v.staged
	}
	v.reset()
}

// Rollback drops the staged value and ends the transaction
func (v *Value[T]) Rollback() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reset()
}

func (v *Value[T]) reset() {
	var zero T
	v.staged = zero
	v.active = false
	v.dirty = false
}

// Close rejects every later change. The committed value stays readable.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reset()
	v.closed = true
}
