package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memstack/memstack/fact"
)

// CommitOptions configures a Commit.
type CommitOptions struct {
	// SessionID binds the fact to a session scope.
	SessionID string
	// Ephemeral marks a fresh fact as session-scoped working memory.
	Ephemeral bool
	// Actor and Reason are recorded in the journal entry.
	Actor  string
	Reason string
}

// MutateOptions carries the audit fields for Update, Delete and
// PromoteSession.
type MutateOptions struct {
	// SessionID scopes the journal entry of Update and Delete. When
	// empty, the fact's own session binding is used. PromoteSession
	// ignores it and journals under the promoted session.
	SessionID string
	Actor     string
	Reason    string
}

// Commit validates and persists a fact, resolving singleton
// constraints, notifying hooks and journaling. Returns the resolved
// fact id: a repeated commit under a mutable singleton key returns
// the existing fact's id.
func (s *Store) Commit(ctx context.Context, f *fact.Fact, opts CommitOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Mutations are not cancellable mid-critical-section.
	ctx = context.WithoutCancel(ctx)

	normalized, err := s.registry.Validate(f.Type, f.Payload)
	if err != nil {
		return "", err
	}
	f.Payload = normalized

	if opts.SessionID != "" {
		f.SessionID = opts.SessionID
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.TS.IsZero() {
		f.TS = time.Now().UTC()
	}

	var before *fact.Fact
	op := fact.OpCommit

	if c := s.registry.Constraint(f.Type); c != nil && c.SingletonKey != "" {
		keyVal, ok := f.Payload[c.SingletonKey]
		if ok && keyVal != nil {
			matches, err := s.backend.Query(ctx, f.Type, map[string]any{"payload." + c.SingletonKey: keyVal})
			if err != nil {
				return "", err
			}
			switch {
			case len(matches) > 1:
				return "", &InvariantError{Message: fmt.Sprintf(
					"%d live facts of type %q share singleton key %s=%v", len(matches), f.Type, c.SingletonKey, keyVal)}
			case len(matches) == 1:
				if c.Immutable {
					return "", &ConflictError{Type: f.Type, Key: c.SingletonKey, Value: keyVal}
				}
				before = matches[0]
				f.ID = before.ID
				op = fact.OpUpdate
			}
		}
	}

	if op != fact.OpUpdate {
		existing, err := s.backend.Load(ctx, f.ID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			before = existing
			op = fact.OpUpdate
		} else if opts.Ephemeral {
			op = fact.OpCommitEphemeral
		}
	}

	if op == fact.OpCommitEphemeral && f.SessionID == "" {
		return "", &InvariantError{Message: "ephemeral commit requires a session id"}
	}
	if _, err := fact.Apply(fact.StateOf(before), op); err != nil {
		return "", &InvariantError{Message: err.Error()}
	}

	if err := s.applyMutation(ctx, op, f.ID, before, f, journalAudit{
		sessionID: f.SessionID, actor: opts.Actor, reason: opts.Reason,
	}); err != nil {
		return "", err
	}

	s.logDebug("committed fact", "op", op, "id", f.ID, "type", f.Type)
	return f.ID, nil
}

// CommitModel commits a typed struct whose type name is resolved via
// the registry's model lookup. The struct's JSON form becomes the
// payload.
func (s *Store) CommitModel(ctx context.Context, model any, opts CommitOptions) (string, error) {
	typeName, ok := s.registry.ResolveType(model)
	if !ok {
		return "", fmt.Errorf("model %T is not registered; use RegisterModel first", model)
	}
	payload, err := modelPayload(model)
	if err != nil {
		return "", err
	}
	return s.Commit(ctx, fact.New(typeName, payload), opts)
}

// Update applies a shallow merge at the top level of the fact's
// payload: patch keys replace existing keys, unreferenced keys are
// preserved. The merged payload is re-validated and the timestamp
// refreshed.
func (s *Store) Update(ctx context.Context, factID string, patch map[string]any, opts MutateOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	existing, err := s.backend.Load(ctx, factID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", &NotFoundError{FactID: factID}
	}

	before := existing.Clone()
	merged := existing
	if merged.Payload == nil {
		merged.Payload = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		merged.Payload[k] = v
	}

	normalized, err := s.registry.Validate(merged.Type, merged.Payload)
	if err != nil {
		return "", err
	}
	merged.Payload = normalized
	merged.Touch()

	audit := journalAudit{sessionID: merged.SessionID, actor: opts.Actor, reason: opts.Reason}
	if opts.SessionID != "" {
		audit.sessionID = opts.SessionID
	}
	if err := s.applyMutation(ctx, fact.OpUpdate, factID, before, merged, audit); err != nil {
		return "", err
	}

	s.logDebug("updated fact", "id", factID, "type", merged.Type)
	return factID, nil
}

// Delete removes a fact, notifying hooks with the pre-deletion
// snapshot and journaling it as the before-image.
func (s *Store) Delete(ctx context.Context, factID string, opts MutateOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	existing, err := s.backend.Load(ctx, factID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", &NotFoundError{FactID: factID}
	}

	audit := journalAudit{sessionID: existing.SessionID, actor: opts.Actor, reason: opts.Reason}
	if opts.SessionID != "" {
		audit.sessionID = opts.SessionID
	}
	if err := s.applyMutation(ctx, fact.OpDelete, factID, existing, nil, audit); err != nil {
		return "", err
	}

	s.logDebug("deleted fact", "id", factID, "type", existing.Type)
	return factID, nil
}

// PromoteSession converts the session's facts accepted by selector to
// durable by clearing their session binding. A nil selector promotes
// everything. Returns the promoted fact ids.
func (s *Store) PromoteSession(ctx context.Context, sessionID string, selector func(*fact.Fact) bool, opts MutateOptions) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	candidates, err := s.backend.SessionFacts(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var promoted []string
	for _, f := range candidates {
		if selector != nil && !selector(f) {
			continue
		}

		before := f.Clone()
		f.SessionID = ""

		audit := journalAudit{sessionID: sessionID, actor: opts.Actor, reason: opts.Reason}
		if err := s.applyMutation(ctx, fact.OpPromote, f.ID, before, f, audit); err != nil {
			// Facts promoted before the failure stay promoted; each
			// has its own journal entry for rollback.
			return promoted, err
		}
		promoted = append(promoted, f.ID)
	}

	s.logDebug("promoted session facts", "session", sessionID, "count", len(promoted))
	return promoted, nil
}

// DiscardSession bulk-deletes all facts bound to the session and
// journals a single DISCARD_SESSION entry. Hooks are notified once
// with a synthetic marker fact carrying the session id. Hook failures
// here are non-transactional: the deletion stands, a partial-failure
// journal entry is appended, and the hook error is returned alongside
// the count.
func (s *Store) DiscardSession(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	deleted, err := s.backend.DeleteSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	entry := fact.NewTxEntry(fact.OpDiscardSession, sessionID, "", nil, nil)
	entry.Reason = fmt.Sprintf("session %s cleared (%d facts)", sessionID, len(deleted))
	if err := s.backend.AppendTx(ctx, entry); err != nil {
		return len(deleted), err
	}

	marker := &fact.Fact{
		SessionID: sessionID,
		Payload:   map[string]any{"deleted_count": len(deleted)},
		TS:        time.Now().UTC(),
	}
	if hookErr := s.notifyHooks(ctx, fact.OpDiscardSession, "", marker); hookErr != nil {
		s.logWarn("discard hook failed; deletion not reversed", "session", sessionID, "err", hookErr)
		retry := fact.NewTxEntry(fact.OpDiscardSession, sessionID, "", nil, nil)
		retry.Actor = "system"
		retry.Reason = fmt.Sprintf("sink retry required for session %s: %v", sessionID, hookErr)
		if err := s.backend.AppendTx(ctx, retry); err != nil {
			s.logError("could not journal discard hook failure", "session", sessionID, "err", err)
		}
		return len(deleted), &HookError{Op: fact.OpDiscardSession, Err: hookErr}
	}

	s.logDebug("discarded session", "session", sessionID, "count", len(deleted))
	return len(deleted), nil
}

// journalAudit carries the session scope and audit strings into the
// journal entry for a mutation.
type journalAudit struct {
	sessionID string
	actor     string
	reason    string
}

// applyMutation runs the shared persist → hooks → journal sequence
// with compensation. after is nil for deletes; before is nil for
// fresh commits.
func (s *Store) applyMutation(ctx context.Context, op fact.Operation, factID string, before, after *fact.Fact, audit journalAudit) error {
	var beforeSnap, afterSnap *fact.Fact
	if before != nil {
		beforeSnap = before.Clone()
	}
	if after != nil {
		afterSnap = after.Clone()
	}

	// Persist the new state.
	var err error
	if after != nil {
		err = s.backend.Save(ctx, after)
	} else {
		err = s.backend.Delete(ctx, factID)
	}
	if err != nil {
		restored := s.compensate(ctx, factID, beforeSnap) == nil
		return &StorageFailure{Op: op, FactID: factID, Err: err, ConsistencyRestored: restored}
	}

	// Hook chain: any failure reverts the primary write. Hooks that
	// already succeeded are not re-notified; adapters are expected to
	// be idempotent on the next successful operation.
	hookFact := afterSnap
	if op == fact.OpDelete {
		hookFact = beforeSnap
	}
	if hookErr := s.notifyHooks(ctx, op, factID, hookFact); hookErr != nil {
		herr := &HookError{Op: op, FactID: factID, Err: hookErr}
		if cerr := s.compensate(ctx, factID, beforeSnap); cerr != nil {
			herr.CompensationErr = cerr
			s.logError("compensation failed after hook error", "op", op, "id", factID, "err", cerr)
		}
		return herr
	}

	// Journal only after the hook chain succeeded: a failed mutation
	// leaves no trace.
	entry := fact.NewTxEntry(op, audit.sessionID, factID, beforeSnap, afterSnap)
	entry.Actor = audit.actor
	entry.Reason = audit.reason
	if err := s.backend.AppendTx(ctx, entry); err != nil {
		restored := s.compensate(ctx, factID, beforeSnap) == nil
		return &StorageFailure{Op: op, FactID: factID, Err: err, ConsistencyRestored: restored}
	}
	return nil
}

// compensate restores the pre-operation state: the before-snapshot if
// one existed, otherwise removal of the created fact.
func (s *Store) compensate(ctx context.Context, factID string, before *fact.Fact) error {
	if before != nil {
		return s.backend.Save(ctx, before.Clone())
	}
	return s.backend.Delete(ctx, factID)
}

func modelPayload(model any) (map[string]any, error) {
	raw, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("serializing model %T: %w", model, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("model %T does not serialize to an object: %w", model, err)
	}
	return payload, nil
}
