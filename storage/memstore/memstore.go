// Package memstore implements the in-memory reference backend.
package memstore

import (
	"context"
	"sync"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/storage"
)

// Store keeps facts and the journal in process memory. Useful as
// working memory for short-lived agents and as the reference backend
// in tests.
type Store struct {
	mu    sync.RWMutex
	facts map[string]*fact.Fact
	txLog []*fact.TxEntry
	seq   int64
}

var _ storage.Backend = (*Store)(nil)

// New creates an empty in-memory backend.
func New() *Store {
	return &Store{facts: make(map[string]*fact.Fact)}
}

// Load returns a deep copy of the stored fact, or (nil, nil).
func (s *Store) Load(ctx context.Context, id string) (*fact.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[id]
	if !ok {
		return nil, nil
	}
	return f.Clone(), nil
}

// Save upserts a fact by id.
func (s *Store) Save(ctx context.Context, f *fact.Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[f.ID] = f.Clone()
	return nil
}

// Delete removes a fact. Absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, id)
	return nil
}

// Query scans all facts, applying type equality and path filters.
func (s *Store) Query(ctx context.Context, typeFilter string, filters map[string]any) ([]*fact.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*fact.Fact
	for _, f := range s.facts {
		if typeFilter != "" && f.Type != typeFilter {
			continue
		}
		if !f.Matches(filters) {
			continue
		}
		results = append(results, f.Clone())
	}
	return results, nil
}

// AppendTx appends a journal entry, assigning the next seq.
func (s *Store) AppendTx(ctx context.Context, entry *fact.TxEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	entry.Seq = s.seq
	s.txLog = append(s.txLog, entry)
	return nil
}

// TxLog returns the session's most recent entries, newest first.
func (s *Store) TxLog(ctx context.Context, sessionID string, limit, offset int) ([]*fact.TxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*fact.TxEntry
	for i := len(s.txLog) - 1; i >= 0; i-- {
		if s.txLog[i].SessionID != sessionID {
			continue
		}
		entries = append(entries, s.txLog[i])
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit >= 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// DeleteTxs removes journal entries by uuid.
func (s *Store) DeleteTxs(ctx context.Context, uuids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(uuids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		drop[u] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.txLog[:0]
	for _, e := range s.txLog {
		if !drop[e.UUID] {
			kept = append(kept, e)
		}
	}
	s.txLog = kept
	return nil
}

// SessionFacts returns all facts bound to the session.
func (s *Store) SessionFacts(ctx context.Context, sessionID string) ([]*fact.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*fact.Fact
	for _, f := range s.facts {
		if f.SessionID == sessionID {
			results = append(results, f.Clone())
		}
	}
	return results, nil
}

// DeleteSession removes every fact bound to the session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for id, f := range s.facts {
		if f.SessionID == sessionID {
			deleted = append(deleted, id)
		}
	}
	for _, id := range deleted {
		delete(s.facts, id)
	}
	return deleted, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }
