package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// SchemaVersion is the schema version this build expects.
const SchemaVersion = 2

// Migration represents a single schema migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations is the ordered list of schema migrations.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
-- Facts: one JSON document per live fact
CREATE TABLE IF NOT EXISTS facts (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  session_id TEXT,
  data TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_facts_type ON facts(type);
CREATE INDEX IF NOT EXISTS idx_facts_session ON facts(session_id) WHERE session_id IS NOT NULL;

-- Journal: append-only, seq derived from the autoincrement rowid
CREATE TABLE IF NOT EXISTS tx_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  uuid TEXT NOT NULL UNIQUE,
  session_id TEXT NOT NULL DEFAULT '',
  ts TEXT NOT NULL,
  op TEXT NOT NULL,
  data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tx_log_session ON tx_log(session_id, seq);
`,
	},
	{
		Version: 2,
		Name:    "facts_singleton_lookup",
		Up: `
-- Speeds up singleton-key resolution for common one-segment keys.
CREATE INDEX IF NOT EXISTS idx_facts_type_data ON facts(type, data);
`,
	},
}

// ApplyMigrations applies any pending migrations in order.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ensureMigrationsTable(s.conn); err != nil {
		return err
	}

	current, err := currentVersion(s.conn)
	if err != nil {
		return err
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersionOf returns the current schema version of the database.
func (s *Store) SchemaVersionOf() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ensureMigrationsTable(s.conn); err != nil {
		return 0, err
	}
	return currentVersion(s.conn)
}

// ValidateSchema ensures the database is at the expected schema version.
func (s *Store) ValidateSchema() error {
	version, err := s.SchemaVersionOf()
	if err != nil {
		return err
	}
	if version != SchemaVersion {
		return fmt.Errorf("schema version mismatch: have %d want %d", version, SchemaVersion)
	}
	return nil
}

func ensureMigrationsTable(conn *sql.DB) error {
	_, err := conn.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);`)
	return err
}

func currentVersion(conn *sql.DB) (int, error) {
	var v sql.NullInt64
	err := conn.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}
