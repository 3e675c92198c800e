// Package redistore implements the Redis storage backend.
//
// Facts are stored one JSON document per key with SET indexes by type
// and session. The journal is a per-session ZSET scored by a
// Redis-owned monotonic counter, with entry bodies in a hash keyed by
// uuid so rollback can drop entries individually.
package redistore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/storage"
)

const defaultPrefix = "mem:"

// Options holds configuration for connecting to a Redis server.
type Options struct {
	// Address is the host:port of the Redis server.
	Address string
	// Password is the password used to authenticate.
	Password string
	// DB is the database index to select.
	DB int
	// KeyPrefix namespaces all keys written by the store.
	KeyPrefix string
	// TLSConfig contains TLS configuration for secure connections.
	TLSConfig *tls.Config
}

// DefaultOptions returns an Options with localhost defaults.
func DefaultOptions() Options {
	return Options{
		Address:   "localhost:6379",
		KeyPrefix: defaultPrefix,
	}
}

// Store is a Redis-backed fact store.
type Store struct {
	client     *redis.Client
	prefix     string
	ownsClient bool
}

var _ storage.Backend = (*Store)(nil)

// Open connects to Redis with the given options.
func Open(opts Options) (*Store, error) {
	if opts.Address == "" {
		opts.Address = DefaultOptions().Address
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:      opts.Address,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
	return &Store{client: client, prefix: opts.KeyPrefix, ownsClient: true}, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership;
// Close will not close it.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultPrefix
	}
	return &Store{client: client, prefix: keyPrefix}
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &storage.Error{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the client if the store owns it.
func (s *Store) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func (s *Store) factKey(id string) string      { return s.prefix + "fact:" + id }
func (s *Store) typeKey(t string) string       { return s.prefix + "type:" + t }
func (s *Store) sessionKey(id string) string   { return s.prefix + "session:" + id }
func (s *Store) txSeqKey() string              { return s.prefix + "tx:seq" }
func (s *Store) txDataKey() string             { return s.prefix + "tx:data" }
func (s *Store) txSessionKey(id string) string { return s.prefix + "tx:session:" + id }

// Load returns the fact stored under id, or (nil, nil) if absent.
func (s *Store) Load(ctx context.Context, id string) (*fact.Fact, error) {
	raw, err := s.client.Get(ctx, s.factKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.Error{Op: "load", Err: err}
	}
	var f fact.Fact
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, &storage.Error{Op: "load", Err: err}
	}
	return &f, nil
}

// Save upserts a fact and maintains the type and session indexes.
func (s *Store) Save(ctx context.Context, f *fact.Fact) error {
	// A save may move a fact between sessions (promotion); the old
	// session index entry has to go.
	prev, err := s.Load(ctx, f.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(f)
	if err != nil {
		return &storage.Error{Op: "save", Err: err}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.factKey(f.ID), data, 0)
	pipe.SAdd(ctx, s.typeKey(f.Type), f.ID)
	if prev != nil && prev.Type != f.Type {
		pipe.SRem(ctx, s.typeKey(prev.Type), f.ID)
	}
	if prev != nil && prev.SessionID != "" && prev.SessionID != f.SessionID {
		pipe.SRem(ctx, s.sessionKey(prev.SessionID), f.ID)
	}
	if f.SessionID != "" {
		pipe.SAdd(ctx, s.sessionKey(f.SessionID), f.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &storage.Error{Op: "save", Err: err}
	}
	return nil
}

// Delete removes a fact and its index entries. Absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	f, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.factKey(id))
	pipe.SRem(ctx, s.typeKey(f.Type), id)
	if f.SessionID != "" {
		pipe.SRem(ctx, s.sessionKey(f.SessionID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &storage.Error{Op: "delete", Err: err}
	}
	return nil
}

// Query loads candidates from the type index (or scans all fact keys)
// and filters in process; Redis without a search module cannot
// evaluate path predicates server-side.
func (s *Store) Query(ctx context.Context, typeFilter string, filters map[string]any) ([]*fact.Fact, error) {
	var ids []string
	var err error
	if typeFilter != "" {
		ids, err = s.client.SMembers(ctx, s.typeKey(typeFilter)).Result()
		if err != nil {
			return nil, &storage.Error{Op: "query", Err: err}
		}
	} else {
		ids, err = s.scanFactIDs(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	facts, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	var results []*fact.Fact
	for _, f := range facts {
		if typeFilter != "" && f.Type != typeFilter {
			continue
		}
		if !f.Matches(filters) {
			continue
		}
		results = append(results, f)
	}
	return results, nil
}

// SessionFacts returns all facts bound to the session.
func (s *Store) SessionFacts(ctx context.Context, sessionID string) ([]*fact.Fact, error) {
	ids, err := s.client.SMembers(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, &storage.Error{Op: "session_facts", Err: err}
	}
	return s.loadMany(ctx, ids)
}

// DeleteSession removes every fact bound to the session and returns
// the deleted ids.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) ([]string, error) {
	key := s.sessionKey(sessionID)
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, &storage.Error{Op: "delete_session", Err: err}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Load first so the type indexes can be cleaned as well.
	facts, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	for _, f := range facts {
		pipe.Del(ctx, s.factKey(f.ID))
		pipe.SRem(ctx, s.typeKey(f.Type), f.ID)
	}
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &storage.Error{Op: "delete_session", Err: err}
	}

	deleted := make([]string, len(facts))
	for i, f := range facts {
		deleted[i] = f.ID
	}
	return deleted, nil
}

// AppendTx appends a journal entry. Seq comes from a Redis INCR so it
// is monotonic across processes sharing the store.
func (s *Store) AppendTx(ctx context.Context, entry *fact.TxEntry) error {
	seq, err := s.client.Incr(ctx, s.txSeqKey()).Result()
	if err != nil {
		return &storage.Error{Op: "append_tx", Err: err}
	}
	entry.Seq = seq

	data, err := json.Marshal(entry)
	if err != nil {
		return &storage.Error{Op: "append_tx", Err: err}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.txDataKey(), entry.UUID, data)
	pipe.ZAdd(ctx, s.txSessionKey(entry.SessionID), redis.Z{Score: float64(seq), Member: entry.UUID})
	if _, err := pipe.Exec(ctx); err != nil {
		return &storage.Error{Op: "append_tx", Err: err}
	}
	return nil
}

// TxLog returns the session's most recent limit entries newest first,
// skipping offset. A negative limit returns everything.
func (s *Store) TxLog(ctx context.Context, sessionID string, limit, offset int) ([]*fact.TxEntry, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit >= 0 {
		stop = int64(offset + limit - 1)
		if stop < int64(offset) {
			return nil, nil
		}
	}

	uuids, err := s.client.ZRevRange(ctx, s.txSessionKey(sessionID), int64(offset), stop).Result()
	if err != nil {
		return nil, &storage.Error{Op: "tx_log", Err: err}
	}
	if len(uuids) == 0 {
		return nil, nil
	}

	raw, err := s.client.HMGet(ctx, s.txDataKey(), uuids...).Result()
	if err != nil {
		return nil, &storage.Error{Op: "tx_log", Err: err}
	}

	var entries []*fact.TxEntry
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			continue
		}
		var entry fact.TxEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			return nil, &storage.Error{Op: "tx_log", Err: err}
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// DeleteTxs removes journal entries by uuid from the data hash and
// every session index that references them.
func (s *Store) DeleteTxs(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}

	raw, err := s.client.HMGet(ctx, s.txDataKey(), uuids...).Result()
	if err != nil {
		return &storage.Error{Op: "delete_txs", Err: err}
	}

	pipe := s.client.TxPipeline()
	for i, item := range raw {
		str, ok := item.(string)
		if !ok {
			continue
		}
		var entry fact.TxEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			return &storage.Error{Op: "delete_txs", Err: err}
		}
		pipe.ZRem(ctx, s.txSessionKey(entry.SessionID), uuids[i])
	}
	pipe.HDel(ctx, s.txDataKey(), uuids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return &storage.Error{Op: "delete_txs", Err: err}
	}
	return nil
}

func (s *Store) scanFactIDs(ctx context.Context) ([]string, error) {
	var ids []string
	prefix := s.factKey("")
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ids = append(ids, key[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, &storage.Error{Op: "query", Err: err}
	}
	return ids, nil
}

func (s *Store) loadMany(ctx context.Context, ids []string) ([]*fact.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.factKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, &storage.Error{Op: "load_many", Err: err}
	}

	var facts []*fact.Fact
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err == redis.Nil {
			continue // stale index entry
		}
		if err != nil {
			return nil, &storage.Error{Op: "load_many", Err: err}
		}
		var f fact.Fact
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, &storage.Error{Op: "load_many", Err: fmt.Errorf("fact decode: %w", err)}
		}
		facts = append(facts, &f)
	}
	return facts, nil
}
