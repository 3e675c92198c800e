package fact

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFactJSONRoundTrip(t *testing.T) {
	f := New("note", map[string]any{"text": "hello", "tags": []any{"a", "b"}})
	f.Source = "unit"
	f.SessionID = "s1"

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Fact
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != f.ID || got.Type != f.Type || got.Source != f.Source || got.SessionID != f.SessionID {
		t.Errorf("fields mismatch: got %+v want %+v", got, f)
	}
	if !EqualValues(got.Payload["text"], "hello") {
		t.Errorf("payload text mismatch: %v", got.Payload["text"])
	}
	if !got.TS.Equal(f.TS.Truncate(time.Microsecond)) {
		t.Errorf("ts mismatch: got %v want %v", got.TS, f.TS)
	}
}

func TestFactTimestampFormat(t *testing.T) {
	f := New("note", map[string]any{})
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	raw, ok := doc["ts"].(string)
	if !ok {
		t.Fatalf("ts is not a string: %T", doc["ts"])
	}
	// Microsecond precision, UTC designator.
	if !strings.HasSuffix(raw, "Z") {
		t.Errorf("ts not UTC: %q", raw)
	}
	dot := strings.Index(raw, ".")
	if dot == -1 || len(raw)-dot-2 < 6 {
		t.Errorf("ts lacks microsecond precision: %q", raw)
	}
}

func TestFactPreservesUnknownKeys(t *testing.T) {
	raw := `{"id":"f1","type":"note","payload":{"x":1},"ts":"2026-01-02T03:04:05.000006Z","custom_field":"kept","nested":{"a":true}}`

	var f Fact
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Extra["custom_field"] != "kept" {
		t.Fatalf("unknown key lost: %v", f.Extra)
	}

	out, err := json.Marshal(&f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if doc["custom_field"] != "kept" {
		t.Errorf("unknown key not re-serialized: %v", doc)
	}
	if _, ok := doc["nested"].(map[string]any); !ok {
		t.Errorf("nested unknown key not re-serialized: %v", doc)
	}
}

func TestFromDocumentMissingID(t *testing.T) {
	_, err := FromDocument(map[string]any{"type": "note"})
	if err == nil {
		t.Fatal("expected error for document without id")
	}
}

func TestCloneIndependence(t *testing.T) {
	f := New("note", map[string]any{"nested": map[string]any{"n": 1}})
	c := f.Clone()

	c.Payload["nested"].(map[string]any)["n"] = 2
	if f.Payload["nested"].(map[string]any)["n"] != 1 {
		t.Error("clone shares payload with original")
	}
}

func TestLookup(t *testing.T) {
	f := &Fact{
		ID:        "f1",
		Type:      "profile",
		SessionID: "s1",
		Payload: map[string]any{
			"email": "a@x",
			"address": map[string]any{
				"city": "Riga",
			},
		},
		TS:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Extra: map[string]any{"legacy": "v"},
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"id", "f1", true},
		{"type", "profile", true},
		{"session_id", "s1", true},
		{"payload.email", "a@x", true},
		{"payload.address.city", "Riga", true},
		{"payload.address.zip", nil, false},
		{"payload.missing", nil, false},
		{"legacy", "v", true},
		{"source", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		got, ok := f.Lookup(tt.path)
		if ok != tt.ok {
			t.Errorf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			continue
		}
		if ok && !EqualValues(got, tt.want) {
			t.Errorf("Lookup(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	f := &Fact{
		ID:      "f1",
		Type:    "profile",
		Payload: map[string]any{"email": "a@x", "age": float64(25)},
	}

	if !f.Matches(map[string]any{"payload.email": "a@x", "payload.age": 25}) {
		t.Error("expected match on email and integer age")
	}
	if f.Matches(map[string]any{"payload.email": "b@x"}) {
		t.Error("unexpected match on wrong email")
	}
	if !f.Matches(nil) {
		t.Error("empty filters must match")
	}
	if !f.Matches(map[string]any{"session_id": nil}) {
		t.Error("nil filter must match absent session")
	}
}

func TestEqualValues(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int vs float", 25, float64(25), true},
		{"float mismatch", 25, 25.5, false},
		{"strings", "x", "x", true},
		{"string vs number", "25", 25, false},
		{"bools", true, true, true},
		{"nils", nil, nil, true},
		{"nested maps", map[string]any{"a": 1}, map[string]any{"a": float64(1)}, true},
		{"arrays", []any{1, "x"}, []any{float64(1), "x"}, true},
		{"array length", []any{1}, []any{1, 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EqualValues(tt.a, tt.b); got != tt.want {
				t.Errorf("EqualValues(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from    State
		op      Operation
		want    State
		allowed bool
	}{
		{StateAbsent, OpCommit, StateLiveDurable, true},
		{StateAbsent, OpCommitEphemeral, StateLiveEphemeral, true},
		{StateAbsent, OpUpdate, "", false},
		{StateAbsent, OpDelete, "", false},
		{StateLiveDurable, OpUpdate, StateLiveDurable, true},
		{StateLiveDurable, OpDelete, StateTombstoned, true},
		{StateLiveDurable, OpCommit, "", false},
		{StateLiveDurable, OpPromote, "", false},
		{StateLiveEphemeral, OpPromote, StateLiveDurable, true},
		{StateLiveEphemeral, OpUpdate, StateLiveEphemeral, true},
		{StateLiveEphemeral, OpDiscardSession, StateTombstoned, true},
		{StateTombstoned, OpUpdate, "", false},
	}
	for _, tt := range tests {
		got, err := Apply(tt.from, tt.op)
		if tt.allowed {
			if err != nil {
				t.Errorf("Apply(%s, %s) unexpected error: %v", tt.from, tt.op, err)
				continue
			}
			if got != tt.want {
				t.Errorf("Apply(%s, %s) = %s, want %s", tt.from, tt.op, got, tt.want)
			}
		} else {
			if err == nil {
				t.Errorf("Apply(%s, %s) expected TransitionError", tt.from, tt.op)
			}
		}
		if CanApply(tt.from, tt.op) != tt.allowed {
			t.Errorf("CanApply(%s, %s) = %v, want %v", tt.from, tt.op, !tt.allowed, tt.allowed)
		}
	}
}

func TestStateOf(t *testing.T) {
	if StateOf(nil) != StateAbsent {
		t.Error("nil fact must be absent")
	}
	if StateOf(&Fact{ID: "x"}) != StateLiveDurable {
		t.Error("unbound fact must be durable")
	}
	if StateOf(&Fact{ID: "x", SessionID: "s"}) != StateLiveEphemeral {
		t.Error("bound fact must be ephemeral")
	}
}

func TestTxEntryRoundTrip(t *testing.T) {
	before := New("note", map[string]any{"v": 1})
	after := before.Clone()
	after.Payload["v"] = 2

	e := NewTxEntry(OpUpdate, "s1", before.ID, before, after)
	e.Seq = 7
	e.Actor = "tester"

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got TxEntry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.UUID != e.UUID || got.Seq != 7 || got.Op != OpUpdate || got.SessionID != "s1" {
		t.Errorf("entry mismatch: %+v", got)
	}
	if got.Before == nil || !EqualValues(got.Before.Payload["v"], 1) {
		t.Errorf("before snapshot mismatch: %+v", got.Before)
	}
	if got.After == nil || !EqualValues(got.After.Payload["v"], 2) {
		t.Errorf("after snapshot mismatch: %+v", got.After)
	}
}

func TestOperationValid(t *testing.T) {
	for _, op := range []Operation{OpCommit, OpCommitEphemeral, OpUpdate, OpDelete, OpPromote, OpDiscardSession} {
		if !op.Valid() {
			t.Errorf("%s should be valid", op)
		}
	}
	if Operation("MERGE").Valid() {
		t.Error("unknown op should be invalid")
	}
}
