package fact

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TxEntry records one completed mutation in the per-session journal.
type TxEntry struct {
	// UUID is the unique entry identifier.
	UUID string `json:"uuid"`
	// Seq is assigned by the storage backend and strictly increases
	// in insertion order within a session.
	Seq int64 `json:"seq"`
	// TS is when the mutation completed.
	TS time.Time `json:"ts"`
	// SessionID partitions the journal. Empty for durable mutations
	// made outside any session.
	SessionID string `json:"session_id,omitempty"`
	// Op is the operation code.
	Op Operation `json:"op"`
	// FactID is the mutated fact's id (empty for DISCARD_SESSION).
	FactID string `json:"fact_id,omitempty"`
	// Before is the full prior fact snapshot, if one existed.
	Before *Fact `json:"fact_before,omitempty"`
	// After is the full posterior snapshot, if the fact survived.
	After *Fact `json:"fact_after,omitempty"`
	// Actor is an optional audit tag naming who mutated.
	Actor string `json:"actor,omitempty"`
	// Reason is an optional audit tag explaining why.
	Reason string `json:"reason,omitempty"`
}

// NewTxEntry builds a journal entry with a fresh uuid and timestamp.
// Seq is left zero; the storage backend assigns it on append.
func NewTxEntry(op Operation, sessionID, factID string, before, after *Fact) *TxEntry {
	return &TxEntry{
		UUID:      uuid.New().String(),
		TS:        time.Now().UTC(),
		SessionID: sessionID,
		Op:        op,
		FactID:    factID,
		Before:    before,
		After:     after,
	}
}

// MarshalJSON serializes the entry with the canonical timestamp format.
func (e *TxEntry) MarshalJSON() ([]byte, error) {
	type alias TxEntry
	return json.Marshal(&struct {
		*alias
		TS string `json:"ts"`
	}{
		alias: (*alias)(e),
		TS:    e.TS.UTC().Format(TimeLayout),
	})
}

// UnmarshalJSON parses an entry, accepting any RFC 3339 timestamp.
func (e *TxEntry) UnmarshalJSON(data []byte) error {
	type alias TxEntry
	aux := &struct {
		*alias
		TS string `json:"ts"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.TS != "" {
		ts, err := ParseTime(aux.TS)
		if err != nil {
			return err
		}
		e.TS = ts
	}
	return nil
}
