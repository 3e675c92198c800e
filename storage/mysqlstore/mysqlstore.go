// Package mysqlstore implements the MySQL storage backend. It speaks
// the MySQL wire protocol, so Dolt and compatible servers work too.
//
// Facts are stored as JSON documents with the type and session
// denormalized into indexed columns; path-equality filters beyond
// those two are evaluated in process, which keeps the backend
// portable across MySQL's JSON function dialects.
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql" // MySQL wire protocol driver

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/storage"
)

// Options configures the MySQL connection.
type Options struct {
	// Host is the server hostname. Default "127.0.0.1".
	Host string
	// Port is the server port. Default 3306.
	Port int
	// User authenticates the connection. Default "root".
	User string
	// Password authenticates the connection.
	Password string
	// Database is the schema to use. Created if missing when
	// CreateDatabase is set.
	Database string
	// TLS enables TLS on the connection.
	TLS bool
	// CreateDatabase creates the database if it does not exist.
	CreateDatabase bool
}

// DefaultOptions returns localhost defaults.
func DefaultOptions() Options {
	return Options{
		Host:           "127.0.0.1",
		Port:           3306,
		User:           "root",
		Database:       "memstack",
		CreateDatabase: true,
	}
}

// Store is a MySQL-backed fact store.
type Store struct {
	conn *sql.DB
}

var _ storage.Backend = (*Store)(nil)

// buildDSN constructs a MySQL DSN. If database is empty, connects
// without selecting one (for init operations).
func buildDSN(opts Options, database string) string {
	userPart := opts.User
	if opts.Password != "" {
		userPart = fmt.Sprintf("%s:%s", opts.User, opts.Password)
	}

	params := "parseTime=true"
	if opts.TLS {
		params += "&tls=true"
	}

	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", userPart, opts.Host, opts.Port, database, params)
}

// Open connects to the server, creating the database and schema if
// needed.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Host == "" {
		opts.Host = DefaultOptions().Host
	}
	if opts.Port == 0 {
		opts.Port = DefaultOptions().Port
	}
	if opts.User == "" {
		opts.User = DefaultOptions().User
	}
	if opts.Database == "" {
		opts.Database = DefaultOptions().Database
	}
	if err := validateDatabaseName(opts.Database); err != nil {
		return nil, err
	}

	if opts.CreateDatabase {
		initDB, err := sql.Open("mysql", buildDSN(opts, ""))
		if err != nil {
			return nil, fmt.Errorf("opening init connection: %w", err)
		}
		_, err = initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", opts.Database))
		initDB.Close()
		if err != nil {
			return nil, fmt.Errorf("creating database %s: %w", opts.Database, err)
		}
	}

	conn, err := sql.Open("mysql", buildDSN(opts, opts.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// A freshly created database can race the server's catalog; retry
	// the first ping briefly.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(func() error {
		return conn.PingContext(ctx)
	}, backoff.WithContext(bo, ctx)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts (
  id VARCHAR(64) PRIMARY KEY,
  type VARCHAR(255) NOT NULL,
  session_id VARCHAR(255) NULL,
  data LONGTEXT NOT NULL,
  created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
  INDEX idx_facts_type (type),
  INDEX idx_facts_session (session_id)
)`,
		`CREATE TABLE IF NOT EXISTS tx_log (
  seq BIGINT AUTO_INCREMENT PRIMARY KEY,
  uuid CHAR(36) NOT NULL UNIQUE,
  session_id VARCHAR(255) NOT NULL DEFAULT '',
  ts VARCHAR(64) NOT NULL,
  op VARCHAR(32) NOT NULL,
  data LONGTEXT NOT NULL,
  INDEX idx_tx_log_session (session_id, seq)
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Load returns the fact stored under id, or (nil, nil) if absent.
func (s *Store) Load(ctx context.Context, id string) (*fact.Fact, error) {
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

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO facts (id, type, session_id, data) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE type = VALUES(type),
			session_id = VALUES(session_id), data = VALUES(data)
	`, f.ID, f.Type, nullString(f.SessionID), string(data))
	if err != nil {
		return &storage.Error{Op: "save", Err: err}
	}
	return nil
}

// Delete removes a fact. Absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id); err != nil {
		return &storage.Error{Op: "delete", Err: err}
	}
	return nil
}

// Query narrows by the indexed type and session columns in SQL and
// evaluates the remaining path filters in process.
func (s *Store) Query(ctx context.Context, typeFilter string, filters map[string]any) ([]*fact.Fact, error) {
	query := `SELECT data FROM facts WHERE 1=1`
	var params []any

	if typeFilter != "" {
		query += ` AND type = ?`
		params = append(params, typeFilter)
	}
	if sid, ok := filters["session_id"].(string); ok && sid != "" {
		query += ` AND session_id = ?`
		params = append(params, sid)
	}

	rows, err := s.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, &storage.Error{Op: "query", Err: err}
	}
	defer rows.Close()

	var results []*fact.Fact
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &storage.Error{Op: "query", Err: err}
		}
		f, err := decodeFact(data)
		if err != nil {
			return nil, err
		}
		if f.Matches(filters) {
			results = append(results, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.Error{Op: "query", Err: err}
	}
	return results, nil
}

// SessionFacts returns all facts bound to the session.
func (s *Store) SessionFacts(ctx context.Context, sessionID string) ([]*fact.Fact, error) {
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

// AppendTx appends a journal entry; seq comes from the AUTO_INCREMENT
// primary key.
func (s *Store) AppendTx(ctx context.Context, entry *fact.TxEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return &storage.Error{Op: "append_tx", Err: err}
	}

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
	if offset < 0 {
		offset = 0
	}
	query := `SELECT seq, data FROM tx_log WHERE session_id = ? ORDER BY seq DESC`
	params := []any{sessionID}
	if limit >= 0 {
		query += ` LIMIT ? OFFSET ?`
		params = append(params, limit, offset)
	} else if offset > 0 {
		// MySQL requires a LIMIT clause before OFFSET.
		query += ` LIMIT 18446744073709551615 OFFSET ?`
		params = append(params, offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, params...)
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

	placeholders := ""
	args := make([]any, len(uuids))
	for i, u := range uuids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = u
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tx_log WHERE uuid IN (`+placeholders+`)`, args...); err != nil {
		return &storage.Error{Op: "delete_txs", Err: err}
	}
	return nil
}

func decodeFact(data string) (*fact.Fact, error) {
	var f fact.Fact
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, &storage.Error{Op: "decode", Err: err}
	}
	return &f, nil
}

// validateDatabaseName prevents injection through the backtick-quoted
// CREATE DATABASE statement.
func validateDatabaseName(name string) error {
	if name == "" {
		return fmt.Errorf("database name is required")
	}
	for _, r := range name {
		if !(r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')) {
			return fmt.Errorf("invalid database name %q", name)
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
