package store

import (
	"context"

	"github.com/memstack/memstack/fact"
)

// Rollback structurally undoes the last steps mutations recorded in
// the session's journal, newest first, and deletes the consumed
// entries. The inverses themselves are not journaled.
//
// steps <= 0 is a no-op. A steps value larger than the available
// journal consumes everything and stops. DISCARD_SESSION entries are
// not invertible; they are skipped and left in the journal.
func (s *Store) Rollback(ctx context.Context, sessionID string, steps int) error {
	if steps <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	entries, err := s.backend.TxLog(ctx, sessionID, steps, 0)
	if err != nil {
		return err
	}

	var consumed []string
	for _, entry := range entries {
		if entry.Op == fact.OpDiscardSession {
			continue
		}
		if err := s.invert(ctx, entry); err != nil {
			// Entries inverted so far are already consumed; drop them
			// so the journal matches the restored state.
			if dropErr := s.backend.DeleteTxs(ctx, consumed); dropErr != nil {
				s.logError("could not drop consumed journal entries", "session", sessionID, "err", dropErr)
			}
			return err
		}
		consumed = append(consumed, entry.UUID)
	}

	if err := s.backend.DeleteTxs(ctx, consumed); err != nil {
		return err
	}

	s.logDebug("rolled back session", "session", sessionID, "steps", len(consumed))
	return nil
}

// invert applies the inverse of one journal entry and notifies hooks
// of the observable effect.
func (s *Store) invert(ctx context.Context, entry *fact.TxEntry) error {
	switch entry.Op {
	case fact.OpCommit, fact.OpCommitEphemeral, fact.OpUpdate, fact.OpPromote:
		if entry.Before != nil {
			restored := entry.Before.Clone()
			if err := s.backend.Save(ctx, restored); err != nil {
				return err
			}
			if err := s.notifyHooks(ctx, fact.OpUpdate, restored.ID, restored); err != nil {
				return &HookError{Op: fact.OpUpdate, FactID: restored.ID, Err: err}
			}
			return nil
		}
		if entry.FactID == "" {
			return nil
		}
		if err := s.backend.Delete(ctx, entry.FactID); err != nil {
			return err
		}
		if err := s.notifyHooks(ctx, fact.OpDelete, entry.FactID, nil); err != nil {
			return &HookError{Op: fact.OpDelete, FactID: entry.FactID, Err: err}
		}
		return nil

	case fact.OpDelete:
		if entry.Before == nil {
			return nil
		}
		restored := entry.Before.Clone()
		if err := s.backend.Save(ctx, restored); err != nil {
			return err
		}
		if err := s.notifyHooks(ctx, fact.OpCommit, restored.ID, restored); err != nil {
			return &HookError{Op: fact.OpCommit, FactID: restored.ID, Err: err}
		}
		return nil

	default:
		return nil
	}
}
