package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/memstack/memstack/storage/memstore"
	"github.com/memstack/memstack/storage/sqlitestore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memstack.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Backend != BackendMemory {
		t.Errorf("default backend = %q", cfg.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
backend = "sqlite"

[sqlite]
  path = "/tmp/custom.db"

[logging]
  level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("backend = %q", cfg.Backend)
	}
	if cfg.SQLite.Path != "/tmp/custom.db" {
		t.Errorf("sqlite path = %q", cfg.SQLite.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Address != "localhost:6379" {
		t.Errorf("redis address = %q", cfg.Redis.Address)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `backend = "cassandra"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Backend: BackendMemory}, false},
		{"redis", Config{Backend: BackendRedis}, false},
		{"sqlite with path", Config{Backend: BackendSQLite, SQLite: SQLiteConfig{Path: "x.db"}}, false},
		{"sqlite without path", Config{Backend: BackendSQLite}, true},
		{"mysql with database", Config{Backend: BackendMySQL, MySQL: MySQLConfig{Database: "facts"}}, false},
		{"mysql without database", Config{Backend: BackendMySQL}, true},
		{"unknown", Config{Backend: "dynamo"}, true},
		{"empty", Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenBackendMemory(t *testing.T) {
	b, err := OpenBackend(Config{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*memstore.Store); !ok {
		t.Errorf("backend type = %T", b)
	}
}

func TestOpenBackendSQLite(t *testing.T) {
	cfg := Config{
		Backend: BackendSQLite,
		SQLite:  SQLiteConfig{Path: filepath.Join(t.TempDir(), "facts.db")},
	}
	b, err := OpenBackend(cfg)
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*sqlitestore.Store); !ok {
		t.Errorf("backend type = %T", b)
	}
}

func TestOpenBackendInvalid(t *testing.T) {
	if _, err := OpenBackend(Config{Backend: "nope"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memstack.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written default: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("backend = %q", cfg.Backend)
	}

	// Existing files are preserved without force.
	if err := os.WriteFile(path, []byte(`backend = "memory"`+"\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault over existing: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `backend = "memory"`+"\n" {
		t.Error("existing config overwritten without force")
	}

	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("WriteDefault force: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) == `backend = "memory"`+"\n" {
		t.Error("force did not overwrite")
	}
}
