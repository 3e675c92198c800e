package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/store"
)

// AuditLog appends one JSON line per observed mutation to a file,
// giving operators a greppable trail independent of the journal. The
// file is opened lazily and append-only; records are flushed per
// write so a crash loses at most the in-flight line.
type AuditLog struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// auditRecord is the serialized line format.
type auditRecord struct {
	TS        string         `json:"ts"`
	Op        fact.Operation `json:"op"`
	FactID    string         `json:"fact_id,omitempty"`
	Type      string         `json:"type,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewAuditLog creates an audit log writing to path. The parent
// directory is created if missing.
func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	return &AuditLog{path: path}, nil
}

// Hook returns the store hook backed by the audit log.
func (a *AuditLog) Hook() store.Hook {
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		rec := auditRecord{
			TS:     time.Now().UTC().Format(fact.TimeLayout),
			Op:     op,
			FactID: factID,
		}
		if f != nil {
			rec.Type = f.Type
			rec.SessionID = f.SessionID
			rec.Source = f.Source
			rec.Payload = f.Payload
		}
		return a.append(rec)
	}
}

// Close closes the underlying file, if open.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Path returns the audit log file path.
func (a *AuditLog) Path() string { return a.path }

func (a *AuditLog) append(rec auditRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializing audit record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		a.file = f
	}

	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}

// ReadAuditLog parses an audit log file back into records. Blank
// lines are skipped.
func ReadAuditLog(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("parsing audit log %s: %w", path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
