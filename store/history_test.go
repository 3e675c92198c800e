package store_test

import (
	"context"
	"testing"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/store"
)

func TestFactHistoryReplaysStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Commit(ctx, fact.New("doc", map[string]any{"rev": 1}), store.CommitOptions{SessionID: "s"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := s.Update(ctx, id, map[string]any{"rev": 2}, store.MutateOptions{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.Delete(ctx, id, store.MutateOptions{SessionID: "s"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Unrelated fact in the same session does not leak in.
	if _, err := s.Commit(ctx, fact.New("doc", map[string]any{"rev": 99}), store.CommitOptions{SessionID: "s"}); err != nil {
		t.Fatalf("Commit other: %v", err)
	}

	states, err := s.FactHistory(ctx, "s", id)
	if err != nil {
		t.Fatalf("FactHistory: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("got %d states, want 3", len(states))
	}
	if !fact.EqualValues(states[0].Payload["rev"], 1) || !fact.EqualValues(states[1].Payload["rev"], 2) {
		t.Errorf("state payloads: %v, %v", states[0].Payload, states[1].Payload)
	}
	if states[2] != nil {
		t.Errorf("deletion not marked: %+v", states[2])
	}
}

func TestStateAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Commit(ctx, fact.New("doc", map[string]any{"rev": 1}), store.CommitOptions{SessionID: "s"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := s.Update(ctx, id, map[string]any{"rev": 2}, store.MutateOptions{}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, err := s.History(ctx, "s", -1, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// entries[1] is the commit, entries[0] the update.
	commitSeq := entries[1].Seq
	updateSeq := entries[0].Seq

	atCommit, err := s.StateAt(ctx, "s", id, commitSeq)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if atCommit == nil || !fact.EqualValues(atCommit.Payload["rev"], 1) {
		t.Errorf("state at commit: %+v", atCommit)
	}

	atUpdate, err := s.StateAt(ctx, "s", id, updateSeq)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if atUpdate == nil || !fact.EqualValues(atUpdate.Payload["rev"], 2) {
		t.Errorf("state at update: %+v", atUpdate)
	}

	early, err := s.StateAt(ctx, "s", id, commitSeq-1)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if early != nil {
		t.Errorf("fact existed before its commit: %+v", early)
	}
}
