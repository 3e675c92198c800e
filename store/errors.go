// Package store implements the transactional memory engine: fact
// lifecycle, constraint enforcement, the commit protocol with its
// hook chain, session promotion and discard, and journal-driven
// rollback.
package store

import (
	"errors"
	"fmt"

	"github.com/memstack/memstack/fact"
)

// NotFoundError indicates an operation targeting a fact id with no
// live fact.
type NotFoundError struct {
	FactID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fact not found: %s", e.FactID)
}

// ConflictError indicates a commit that would violate an immutable
// singleton constraint. No state was changed.
type ConflictError struct {
	Type  string
	Key   string
	Value any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("immutable constraint violation: %s:%v (key %q)", e.Type, e.Value, e.Key)
}

// InvariantError indicates a mutation that would break a lifecycle
// invariant (an ephemeral commit without a session id, a disallowed
// state transition) or internal corruption detected by the engine,
// such as multiple live facts under one singleton key.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Message
}

// HookError wraps a failure raised by a hook. The engine has reverted
// the primary write; the fact is in its pre-operation state. On
// DISCARD_SESSION the deletion is not reverted and stands.
type HookError struct {
	Op     fact.Operation
	FactID string
	// Err is the original hook error.
	Err error
	// CompensationErr is non-nil if restoring the pre-operation state
	// also failed, leaving the primary store inconsistent.
	CompensationErr error
}

func (e *HookError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("hook failed on %s %s: %v (compensation also failed: %v)", e.Op, e.FactID, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("hook failed on %s %s: %v", e.Op, e.FactID, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// StorageFailure wraps a backend error that fired after the state
// change was attempted. ConsistencyRestored reports whether the
// engine's best-effort restoration brought the primary store back to
// its pre-operation state.
type StorageFailure struct {
	Op                  fact.Operation
	FactID              string
	Err                 error
	ConsistencyRestored bool
}

func (e *StorageFailure) Error() string {
	state := "consistency restored"
	if !e.ConsistencyRestored {
		state = "store may be inconsistent"
	}
	return fmt.Sprintf("storage failure during %s %s: %v (%s)", e.Op, e.FactID, e.Err, state)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a missing-fact error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is an immutable singleton conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
