// Package sqlitestore implements the SQLite storage backend.
// Uses modernc.org/sqlite (pure Go, no cgo) with WAL mode.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/storage"
)

// Store is a SQLite-backed fact store. Facts are stored as JSON
// documents and filtered with json_extract; the journal seq comes
// from the tx_log rowid.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

var _ storage.Backend = (*Store)(nil)

// OpenOptions configures database opening behavior.
type OpenOptions struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool
	// InitSchema initializes the schema if the database is new.
	InitSchema bool
	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultOpenOptions returns sensible defaults for opening a database.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		CreateIfNotExists: true,
		InitSchema:        true,
	}
}

// Open opens a database connection with WAL mode enabled.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, DefaultOpenOptions())
}

// OpenWithOptions opens a database connection with the given options.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if opts.CreateIfNotExists {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	mode := ""
	if opts.ReadOnly {
		mode = "&mode=ro"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)%s", path, mode)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	if opts.InitSchema {
		if err := s.ApplyMigrations(context.Background()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Load returns the fact stored under id, or (nil, nil) if absent.
func (s *Store) Load(ctx context.Context, id string) (*fact.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM facts WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.Error{Op: "load", Err: err}
	}
	return decodeFact(data)
}

// Save upserts a fact by id.
func (s *Store) Save(ctx context.Context, f *fact.Fact) error {
	data, err := json.Marshal(f)
	if err != nil {
		return &storage.Error{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO facts (id, type, session_id, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type,
			session_id = excluded.session_id, data = excluded.data
	`, f.ID, f.Type, nullString(f.SessionID), string(data))
	if err != nil {
		return &storage.Error{Op: "save", Err: err}
	}
	return nil
}

// Delete removes a fact. Absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id); err != nil {
		return &storage.Error{Op: "delete", Err: err}
	}
	return nil
}

// Query returns facts matching the type filter and path-equality
// filters. Paths push down to json_extract; values that SQLite cannot
// compare natively are re-checked in Go.
func (s *Store) Query(ctx context.Context, typeFilter string, filters map[string]any) ([]*fact.Fact, error) {
	query := `SELECT data FROM facts WHERE 1=1`
	var params []any

	if typeFilter != "" {
		query += ` AND type = ?`
		params = append(params, typeFilter)
	}

	for path, value := range filters {
		if !safePath(path) {
			return nil, &storage.Error{Op: "query", Err: fmt.Errorf("invalid filter path %q", path)}
		}
		switch v := value.(type) {
		case nil:
			query += fmt.Sprintf(` AND json_extract(data, '$.%s') IS NULL`, path)
		case bool:
			query += fmt.Sprintf(` AND json_extract(data, '$.%s') = ?`, path)
			if v {
				params = append(params, 1)
			} else {
				params = append(params, 0)
			}
		case string, float64, float32, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
			query += fmt.Sprintf(` AND json_extract(data, '$.%s') = ?`, path)
			params = append(params, v)
		default:
			// Composite values (maps, slices) are filtered in Go below.
		}
	}

	s.mu.RLock()
	rows, err := s.conn.QueryContext(ctx, query, params...)
	if err != nil {
		s.mu.RUnlock()
		return nil, &storage.Error{Op: "query", Err: err}
	}

	var results []*fact.Fact
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, &storage.Error{Op: "query", Err: err}
		}
		f, err := decodeFact(data)
		if err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		if f.Matches(filters) {
			results = append(results, f)
		}
	}
	err = rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return nil, &storage.Error{Op: "query", Err: err}
	}
	return results, nil
}

// SessionFacts returns all facts bound to the session.
func (s *Store) SessionFacts(ctx context.Context, sessionID string) ([]*fact.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `SELECT data FROM facts WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, &storage.Error{Op: "session_facts", Err: err}
	}
	defer rows.Close()

	var results []*fact.Fact
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &storage.Error{Op: "session_facts", Err: err}
		}
		f, err := decodeFact(data)
		if err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.Error{Op: "session_facts", Err: err}
	}
	return results, nil
}

// DeleteSession removes every fact bound to the session and returns
// the deleted ids.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM facts WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, &storage.Error{Op: "delete_session", Err: err}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &storage.Error{Op: "delete_session", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &storage.Error{Op: "delete_session", Err: err}
	}
	rows.Close()

	if len(ids) > 0 {
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM facts WHERE session_id = ?`, sessionID); err != nil {
			return nil, &storage.Error{Op: "delete_session", Err: err}
		}
	}
	return ids, nil
}

func decodeFact(data string) (*fact.Fact, error) {
	var f fact.Fact
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, &storage.Error{Op: "decode", Err: err}
	}
	return &f, nil
}

// safePath accepts dotted identifier paths; anything else would allow
// SQL injection through json_extract.
func safePath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			if !(r == '_' || r == '-' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9')) {
				return false
			}
		}
	}
	return true
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
