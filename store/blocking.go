package store

import (
	"context"

	"github.com/memstack/memstack/fact"
)

// Blocking is a thin adapter exposing the store without contexts, for
// callers that execute mutations on their own goroutine and have no
// cancellation to propagate. Semantics are identical to Store.
type Blocking struct {
	s *Store
}

// NewBlocking wraps a store in the no-context adapter.
func NewBlocking(s *Store) *Blocking {
	return &Blocking{s: s}
}

// Store returns the underlying context-aware store.
func (b *Blocking) Store() *Store { return b.s }

// Commit persists a fact. See Store.Commit.
func (b *Blocking) Commit(f *fact.Fact, opts CommitOptions) (string, error) {
	return b.s.Commit(context.Background(), f, opts)
}

// CommitModel commits a registered typed struct. See Store.CommitModel.
func (b *Blocking) CommitModel(model any, opts CommitOptions) (string, error) {
	return b.s.CommitModel(context.Background(), model, opts)
}

// Update shallow-merges a payload patch. See Store.Update.
func (b *Blocking) Update(factID string, patch map[string]any, opts MutateOptions) (string, error) {
	return b.s.Update(context.Background(), factID, patch, opts)
}

// Delete removes a fact. See Store.Delete.
func (b *Blocking) Delete(factID string, opts MutateOptions) (string, error) {
	return b.s.Delete(context.Background(), factID, opts)
}

// Get returns the fact stored under id, or (nil, nil) if absent.
func (b *Blocking) Get(factID string) (*fact.Fact, error) {
	return b.s.Get(context.Background(), factID)
}

// Query returns facts matching the options.
func (b *Blocking) Query(opts QueryOptions) ([]*fact.Fact, error) {
	return b.s.Query(context.Background(), opts)
}

// History reads the session's journal tail.
func (b *Blocking) History(sessionID string, limit, offset int) ([]*fact.TxEntry, error) {
	return b.s.History(context.Background(), sessionID, limit, offset)
}

// PromoteSession promotes session facts to durable.
func (b *Blocking) PromoteSession(sessionID string, selector func(*fact.Fact) bool, opts MutateOptions) ([]string, error) {
	return b.s.PromoteSession(context.Background(), sessionID, selector, opts)
}

// DiscardSession bulk-deletes a session's facts.
func (b *Blocking) DiscardSession(sessionID string) (int, error) {
	return b.s.DiscardSession(context.Background(), sessionID)
}

// Rollback undoes the last steps mutations in the session.
func (b *Blocking) Rollback(sessionID string, steps int) error {
	return b.s.Rollback(context.Background(), sessionID, steps)
}
