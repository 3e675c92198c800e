package sqlitestore

import (
	"context"

	"github.com/memstack/memstack/storage"
)

// Stats returns database statistics.
type Stats struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"schema_version"`
	FactCount     int    `json:"fact_count"`
	EphemeralKept int    `json:"ephemeral_count"`
	TxCount       int    `json:"tx_count"`
}

// GetStats returns database statistics.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Path: s.path}

	version, err := s.SchemaVersionOf()
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&stats.FactCount); err != nil {
		return nil, &storage.Error{Op: "stats", Err: err}
	}
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts WHERE session_id IS NOT NULL`).Scan(&stats.EphemeralKept); err != nil {
		return nil, &storage.Error{Op: "stats", Err: err}
	}
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tx_log`).Scan(&stats.TxCount); err != nil {
		return nil, &storage.Error{Op: "stats", Err: err}
	}

	return stats, nil
}
