// Package config loads memstack configuration from TOML and builds
// the configured storage backend.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/memstack/memstack/storage"
	"github.com/memstack/memstack/storage/memstore"
	"github.com/memstack/memstack/storage/mysqlstore"
	"github.com/memstack/memstack/storage/redistore"
	"github.com/memstack/memstack/storage/sqlitestore"
)

// Backend names accepted in the config file.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

// Config is the full memstack configuration.
type Config struct {
	// Backend selects the storage backend: memory, sqlite, redis or mysql.
	Backend string `toml:"backend" mapstructure:"backend"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `toml:"sqlite" mapstructure:"sqlite"`

	// Redis configures the redis backend.
	Redis RedisConfig `toml:"redis" mapstructure:"redis"`

	// MySQL configures the mysql backend.
	MySQL MySQLConfig `toml:"mysql" mapstructure:"mysql"`

	// Logging configures engine logging.
	Logging LoggingConfig `toml:"logging" mapstructure:"logging"`
}

// SQLiteConfig holds sqlite backend settings.
type SQLiteConfig struct {
	// Path is the database file location.
	Path string `toml:"path" mapstructure:"path"`
}

// RedisConfig holds redis backend settings.
type RedisConfig struct {
	// Address is the host:port of the Redis server.
	Address string `toml:"address" mapstructure:"address"`
	// Password authenticates the connection.
	Password string `toml:"password" mapstructure:"password"`
	// DB is the database index.
	DB int `toml:"db" mapstructure:"db"`
	// KeyPrefix namespaces all keys.
	KeyPrefix string `toml:"key_prefix" mapstructure:"key_prefix"`
}

// MySQLConfig holds mysql backend settings.
type MySQLConfig struct {
	// Host is the server hostname.
	Host string `toml:"host" mapstructure:"host"`
	// Port is the server port.
	Port int `toml:"port" mapstructure:"port"`
	// User authenticates the connection.
	User string `toml:"user" mapstructure:"user"`
	// Password authenticates the connection.
	Password string `toml:"password" mapstructure:"password"`
	// Database is the schema to use.
	Database string `toml:"database" mapstructure:"database"`
	// TLS enables TLS on the connection.
	TLS bool `toml:"tls" mapstructure:"tls"`
}

// LoggingConfig holds engine logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" mapstructure:"level"`
}

// DefaultConfig returns the built-in defaults: an in-memory backend
// with info logging.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		SQLite:  SQLiteConfig{Path: "memstack.db"},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "mem:",
		},
		MySQL: MySQLConfig{
			Host:     "127.0.0.1",
			Port:     3306,
			User:     "root",
			Database: "memstack",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a TOML config file, layering it over the defaults.
// Environment variables prefixed MEMSTACK_ override file values
// (e.g. MEMSTACK_BACKEND, MEMSTACK_REDIS_ADDRESS).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("MEMSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("sqlite.path", cfg.SQLite.Path)
	v.SetDefault("redis.address", cfg.Redis.Address)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.key_prefix", cfg.Redis.KeyPrefix)
	v.SetDefault("mysql.host", cfg.MySQL.Host)
	v.SetDefault("mysql.port", cfg.MySQL.Port)
	v.SetDefault("mysql.user", cfg.MySQL.User)
	v.SetDefault("mysql.password", cfg.MySQL.Password)
	v.SetDefault("mysql.database", cfg.MySQL.Database)
	v.SetDefault("mysql.tls", cfg.MySQL.TLS)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite backend requires sqlite.path")
		}
	case BackendMySQL:
		if c.MySQL.Database == "" {
			return fmt.Errorf("mysql backend requires mysql.database")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s, %s or %s)", c.Backend, BackendMemory, BackendSQLite, BackendRedis, BackendMySQL)
	}
	return nil
}

// OpenBackend constructs the storage backend the config selects.
func OpenBackend(cfg Config) (storage.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return memstore.New(), nil
	case BackendSQLite:
		return sqlitestore.Open(cfg.SQLite.Path)
	case BackendRedis:
		return redistore.Open(redistore.Options{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case BackendMySQL:
		return mysqlstore.Open(context.Background(), mysqlstore.Options{
			Host:           cfg.MySQL.Host,
			Port:           cfg.MySQL.Port,
			User:           cfg.MySQL.User,
			Password:       cfg.MySQL.Password,
			Database:       cfg.MySQL.Database,
			TLS:            cfg.MySQL.TLS,
			CreateDatabase: true,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// WriteDefault writes a commented default config file. An existing
// file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := `# memstack configuration
#
# Precedence: defaults < file < env (MEMSTACK_*)

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	enc := toml.NewEncoder(f)
	enc.Indent = "  "
	return enc.Encode(DefaultConfig())
}
