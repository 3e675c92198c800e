package store

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/schema"
	"github.com/memstack/memstack/storage"
)

// Hook is a synchronous side-effect callback invoked inside the
// commit critical section, used to keep secondary indexes consistent
// with the primary store.
//
// Hooks receive the final post-validation fact on COMMIT, UPDATE and
// PROMOTE, the pre-deletion fact on DELETE, and a synthetic marker
// fact carrying the session id on DISCARD_SESSION. A hook signals
// failure by returning an error; the engine wraps it in a HookError
// and reverts the primary write, except on DISCARD_SESSION, whose
// deletion stands. Hooks should be idempotent per fact
// id for a given operation, because rollback from a later failure may
// cause the same id to be re-notified.
type Hook func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error

// Options configures a Store.
type Options struct {
	// Registry supplies an existing schema registry. A fresh one is
	// created when nil.
	Registry *schema.Registry
	// Logger receives debug/warn output. Silent when nil.
	Logger *log.Logger
}

// Store is the transactional memory engine. One mutex serializes
// every mutation across validation, the storage write, the hook chain
// and the journal append; reads take no lock and observe consistent
// backend snapshots.
type Store struct {
	backend  storage.Backend
	registry *schema.Registry
	logger   *log.Logger

	mu    sync.Mutex
	hooks []Hook
}

// New creates a store over the given backend.
func New(backend storage.Backend) *Store {
	return NewWithOptions(backend, Options{})
}

// NewWithOptions creates a store with explicit configuration.
func NewWithOptions(backend storage.Backend, opts Options) *Store {
	registry := opts.Registry
	if registry == nil {
		registry = schema.NewRegistry()
	}
	return &Store{
		backend:  backend,
		registry: registry,
		logger:   opts.Logger,
	}
}

// Registry returns the store's schema registry.
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// RegisterSchema binds a validator and optional constraint to a fact
// type. Existing facts are not re-validated.
func (s *Store) RegisterSchema(typeName string, v schema.Validator, c *schema.Constraint) {
	s.registry.Register(typeName, v, c)
}

// RegisterModel registers a struct type as the schema for typeName
// and remembers the model for CommitModel's reverse lookup.
func (s *Store) RegisterModel(typeName string, model any, c *schema.Constraint) error {
	return s.registry.RegisterModel(typeName, model, c)
}

// AddHook appends a hook to the chain. Hooks run in registration
// order for every mutation.
func (s *Store) AddHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Get returns the fact stored under id, or (nil, nil) if absent.
// Takes no lock; cancellable through ctx.
func (s *Store) Get(ctx context.Context, factID string) (*fact.Fact, error) {
	return s.backend.Load(ctx, factID)
}

// QueryOptions narrows a Query.
type QueryOptions struct {
	// Type restricts results to one fact type.
	Type string
	// Filters is a conjunction of payload-path equality constraints.
	// Paths are dot-separated and evaluated inside the payload
	// (e.g. "email" or "address.city").
	Filters map[string]any
	// SessionID, if set, restricts results to one session.
	SessionID string
}

// Query returns facts matching the options. Takes no lock.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*fact.Fact, error) {
	filters := make(map[string]any, len(opts.Filters)+1)
	for path, v := range opts.Filters {
		filters["payload."+path] = v
	}
	if opts.SessionID != "" {
		filters["session_id"] = opts.SessionID
	}
	return s.backend.Query(ctx, opts.Type, filters)
}

// History returns the most recent limit journal entries for the
// session, newest first, skipping offset. The empty session id reads
// the journal of mutations made outside any session.
func (s *Store) History(ctx context.Context, sessionID string, limit, offset int) ([]*fact.TxEntry, error) {
	return s.backend.TxLog(ctx, sessionID, limit, offset)
}

// notifyHooks runs the chain in registration order, stopping at the
// first failure.
func (s *Store) notifyHooks(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
	for _, h := range s.hooks {
		if err := h(ctx, op, factID, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) logDebug(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, kv...)
	}
}

func (s *Store) logWarn(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}

func (s *Store) logError(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Error(msg, kv...)
	}
}
