package memstore

import (
	"context"
	"testing"

	"github.com/memstack/memstack/fact"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	f := fact.New("note", map[string]any{"text": "hello"})
	if err := s.Save(ctx, f); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, f.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.ID != f.ID || !fact.EqualValues(got.Payload["text"], "hello") {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Saving the loaded fact back is a no-op.
	if err := s.Save(ctx, got); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	again, err := s.Load(ctx, f.ID)
	if err != nil {
		t.Fatalf("re-load: %v", err)
	}
	if !fact.EqualValues(again.Payload["text"], "hello") {
		t.Errorf("re-save changed fact: %+v", again)
	}
}

func TestLoadAbsent(t *testing.T) {
	s := New()
	got, err := s.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for absent id, got %+v", got)
	}
}

func TestLoadReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	f := fact.New("note", map[string]any{"n": 1})
	if err := s.Save(ctx, f); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _ := s.Load(ctx, f.ID)
	got.Payload["n"] = 99

	fresh, _ := s.Load(ctx, f.ID)
	if !fact.EqualValues(fresh.Payload["n"], 1) {
		t.Error("Load leaked internal state")
	}
}

func TestQueryFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := fact.New("user", map[string]any{"email": "a@x", "age": 20})
	b := fact.New("user", map[string]any{"email": "b@x", "age": 30})
	c := fact.New("note", map[string]any{"email": "a@x"})
	for _, f := range []*fact.Fact{a, b, c} {
		if err := s.Save(ctx, f); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.Query(ctx, "user", map[string]any{"payload.email": "a@x"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("query mismatch: %+v", got)
	}

	all, err := s.Query(ctx, "user", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 users, got %d", len(all))
	}

	none, err := s.Query(ctx, "", map[string]any{"payload.age": 99})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no matches, got %+v", none)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	f := fact.New("note", map[string]any{})
	if err := s.Save(ctx, f); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if got, _ := s.Load(ctx, f.ID); got != nil {
		t.Error("fact survived delete")
	}
}

func TestSessionFactsAndDeleteSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	e1 := fact.New("note", map[string]any{"n": 1})
	e1.SessionID = "s1"
	e2 := fact.New("note", map[string]any{"n": 2})
	e2.SessionID = "s1"
	durable := fact.New("note", map[string]any{"n": 3})
	for _, f := range []*fact.Fact{e1, e2, durable} {
		if err := s.Save(ctx, f); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	facts, err := s.SessionFacts(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionFacts: %v", err)
	}
	if len(facts) != 2 {
		t.Errorf("expected 2 session facts, got %d", len(facts))
	}

	deleted, err := s.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected 2 deleted, got %v", deleted)
	}
	if got, _ := s.Load(ctx, durable.ID); got == nil {
		t.Error("durable fact removed by session delete")
	}

	empty, err := s.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("second DeleteSession: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty second delete, got %v", empty)
	}
}

func TestTxLogOrderAndSeq(t *testing.T) {
	s := New()
	ctx := context.Background()

	var uuids []string
	for i := 0; i < 5; i++ {
		e := fact.NewTxEntry(fact.OpCommit, "s1", "f1", nil, nil)
		if err := s.AppendTx(ctx, e); err != nil {
			t.Fatalf("AppendTx: %v", err)
		}
		if e.Seq != int64(i+1) {
			t.Errorf("seq = %d, want %d", e.Seq, i+1)
		}
		uuids = append(uuids, e.UUID)
	}
	// Another session interleaves without disturbing s1's order.
	other := fact.NewTxEntry(fact.OpCommit, "s2", "f2", nil, nil)
	if err := s.AppendTx(ctx, other); err != nil {
		t.Fatalf("AppendTx: %v", err)
	}

	entries, err := s.TxLog(ctx, "s1", 3, 0)
	if err != nil {
		t.Fatalf("TxLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].UUID != uuids[4] || entries[2].UUID != uuids[2] {
		t.Errorf("wrong order: %v", entries)
	}

	offset, err := s.TxLog(ctx, "s1", 2, 3)
	if err != nil {
		t.Fatalf("TxLog offset: %v", err)
	}
	if len(offset) != 2 || offset[0].UUID != uuids[1] {
		t.Errorf("offset mismatch: %v", offset)
	}

	none, err := s.TxLog(ctx, "s1", 10, 100)
	if err != nil {
		t.Fatalf("TxLog big offset: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected empty, got %d", len(none))
	}
}

func TestDeleteTxs(t *testing.T) {
	s := New()
	ctx := context.Background()

	e1 := fact.NewTxEntry(fact.OpCommit, "s1", "f1", nil, nil)
	e2 := fact.NewTxEntry(fact.OpUpdate, "s1", "f1", nil, nil)
	for _, e := range []*fact.TxEntry{e1, e2} {
		if err := s.AppendTx(ctx, e); err != nil {
			t.Fatalf("AppendTx: %v", err)
		}
	}

	if err := s.DeleteTxs(ctx, []string{e2.UUID}); err != nil {
		t.Fatalf("DeleteTxs: %v", err)
	}
	entries, err := s.TxLog(ctx, "s1", -1, 0)
	if err != nil {
		t.Fatalf("TxLog: %v", err)
	}
	if len(entries) != 1 || entries[0].UUID != e1.UUID {
		t.Errorf("wrong survivor: %v", entries)
	}

	if err := s.DeleteTxs(ctx, nil); err != nil {
		t.Fatalf("empty DeleteTxs: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Load(ctx, "x"); err == nil {
		t.Error("Load ignored cancelled context")
	}
	if err := s.Save(ctx, fact.New("note", nil)); err == nil {
		t.Error("Save ignored cancelled context")
	}
}
