// Package storage defines the interface fact storage backends
// implement and the errors they surface.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/memstack/memstack/fact"
)

// ErrNotFound indicates a backend lookup for an id that has no live
// document. Load returns (nil, nil) instead; this sentinel is for
// operations that require the document to exist.
var ErrNotFound = errors.New("not found")

// Error wraps a backend failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Backend is a key-addressable document store with an append-only
// transaction log and a session-scoped bulk-delete primitive.
//
// A conforming backend serializes concurrent calls internally (or
// relies on the engine's single mutation lock), preserves insertion
// order for AppendTx, and treats Save as insert-or-replace by id.
type Backend interface {
	// Load returns the fact stored under id, or (nil, nil) if absent.
	Load(ctx context.Context, id string) (*fact.Fact, error)

	// Save upserts a fact by its id.
	Save(ctx context.Context, f *fact.Fact) error

	// Delete removes a fact. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Query returns facts matching an optional type equality and a
	// conjunction of document-path equality filters. Paths are
	// dot-separated and evaluated against the fact's document form
	// (e.g. "payload.email", "session_id").
	Query(ctx context.Context, typeFilter string, filters map[string]any) ([]*fact.Fact, error)

	// AppendTx appends a journal entry, assigning entry.Seq from a
	// backend-owned monotonic counter.
	AppendTx(ctx context.Context, entry *fact.TxEntry) error

	// TxLog returns the most recent limit entries for the session,
	// newest first, skipping offset.
	TxLog(ctx context.Context, sessionID string, limit, offset int) ([]*fact.TxEntry, error)

	// DeleteTxs removes journal entries by uuid.
	DeleteTxs(ctx context.Context, uuids []string) error

	// SessionFacts returns all facts bound to the session.
	SessionFacts(ctx context.Context, sessionID string) ([]*fact.Fact, error)

	// DeleteSession bulk-deletes all facts bound to the session and
	// returns the deleted ids.
	DeleteSession(ctx context.Context, sessionID string) ([]string, error)

	// Close releases backend resources.
	Close() error
}
