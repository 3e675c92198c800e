package store

import (
	"context"

	"github.com/memstack/memstack/fact"
)

// FactHistory reconstructs a fact's observable states from the
// session journal, oldest first. Each element is the fact as it stood
// after one mutation; a trailing nil marks a deletion. Replaying the
// slice in order reproduces the fact's current state.
func (s *Store) FactHistory(ctx context.Context, sessionID, factID string) ([]*fact.Fact, error) {
	entries, err := s.backend.TxLog(ctx, sessionID, -1, 0)
	if err != nil {
		return nil, err
	}

	// TxLog is newest first; walk backwards for replay order.
	var states []*fact.Fact
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.FactID != factID {
			continue
		}
		switch e.Op {
		case fact.OpDelete:
			states = append(states, nil)
		default:
			if e.After != nil {
				states = append(states, e.After.Clone())
			}
		}
	}
	return states, nil
}

// StateAt returns the fact's state as of the journal entry with the
// given seq (inclusive), or nil if the fact did not exist yet or was
// deleted at that point.
func (s *Store) StateAt(ctx context.Context, sessionID, factID string, seq int64) (*fact.Fact, error) {
	entries, err := s.backend.TxLog(ctx, sessionID, -1, 0)
	if err != nil {
		return nil, err
	}

	var state *fact.Fact
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Seq > seq {
			break
		}
		if e.FactID != factID {
			continue
		}
		if e.Op == fact.OpDelete {
			state = nil
			continue
		}
		if e.After != nil {
			state = e.After.Clone()
		}
	}
	return state, nil
}
