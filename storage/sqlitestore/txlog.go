package sqlitestore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/storage"
)

// AppendTx appends a journal entry. The entry's Seq is assigned from
// the tx_log autoincrement rowid, so it survives process restarts and
// strictly increases in insertion order.
func (s *Store) AppendTx(ctx context.Context, entry *fact.TxEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return &storage.Error{Op: "append_tx", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO tx_log (uuid, session_id, ts, op, data) VALUES (?, ?, ?, ?, ?)
	`, entry.UUID, entry.SessionID, entry.TS.UTC().Format(fact.TimeLayout), string(entry.Op), string(data))
	if err != nil {
		return &storage.Error{Op: "append_tx", Err: err}
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return &storage.Error{Op: "append_tx", Err: err}
	}
	entry.Seq = seq
	return nil
}

// TxLog returns the session's most recent limit entries newest first,
// skipping offset. A negative limit returns everything.
func (s *Store) TxLog(ctx context.Context, sessionID string, limit, offset int) ([]*fact.TxEntry, error) {
	if limit < 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, data FROM tx_log WHERE session_id = ?
		ORDER BY seq DESC LIMIT ? OFFSET ?
	`, sessionID, limit, offset)
	if err != nil {
		return nil, &storage.Error{Op: "tx_log", Err: err}
	}
	defer rows.Close()

	var entries []*fact.TxEntry
	for rows.Next() {
		var seq int64
		var data string
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, &storage.Error{Op: "tx_log", Err: err}
		}
		var entry fact.TxEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, &storage.Error{Op: "tx_log", Err: err}
		}
		// The column is authoritative: the serialized form was
		// written before the rowid existed.
		entry.Seq = seq
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.Error{Op: "tx_log", Err: err}
	}
	return entries, nil
}

// DeleteTxs removes journal entries by uuid.
func (s *Store) DeleteTxs(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uuids)), ",")
	args := make([]any, len(uuids))
	for i, u := range uuids {
		args[i] = u
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tx_log WHERE uuid IN (`+placeholders+`)`, args...); err != nil {
		return &storage.Error{Op: "delete_txs", Err: err}
	}
	return nil
}
