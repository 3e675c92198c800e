// Package redisearch keeps a Redis-backed text index in sync with the
// primary fact store. It is the reference secondary-index sink: a
// hook that upserts a searchable record per fact and deletes records
// when facts are deleted or their session is discarded.
package redisearch

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/store"
)

const defaultPrefix = "memidx:"

// TextFormatter extracts the indexable text from a payload.
type TextFormatter func(payload map[string]any) string

// Options configures a Sink.
type Options struct {
	// KeyPrefix namespaces the index keys. Defaults to "memidx:".
	KeyPrefix string
	// TargetTypes restricts indexing to the given fact types. Empty
	// means every type.
	TargetTypes []string
	// TextField names the payload field holding the indexable text.
	// Ignored when TextFormatter is set.
	TextField string
	// TextFormatter builds the indexable text from the payload. When
	// nil and TextField is empty, the whole payload's string form is
	// indexed.
	TextFormatter TextFormatter
	// MetadataFields lists payload fields copied into the record for
	// filtering on the sink side.
	MetadataFields []string
}

// Sink mirrors facts into Redis hashes. Records live under
// <prefix>doc:<fact_id>; a set per session tracks session-scoped
// records so DISCARD_SESSION can remove them.
type Sink struct {
	client      *redis.Client
	prefix      string
	targetTypes map[string]bool
	textField   string
	formatter   TextFormatter
	metaFields  []string
}

// New creates a sink over an existing client.
func New(client *redis.Client, opts Options) *Sink {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultPrefix
	}
	var targets map[string]bool
	if len(opts.TargetTypes) > 0 {
		targets = make(map[string]bool, len(opts.TargetTypes))
		for _, t := range opts.TargetTypes {
			targets[t] = true
		}
	}
	return &Sink{
		client:      client,
		prefix:      opts.KeyPrefix,
		targetTypes: targets,
		textField:   opts.TextField,
		formatter:   opts.TextFormatter,
		metaFields:  opts.MetadataFields,
	}
}

// Hook returns the store hook backed by this sink.
func (s *Sink) Hook() store.Hook {
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		switch op {
		case fact.OpDelete:
			return s.remove(ctx, factID)
		case fact.OpDiscardSession:
			if f == nil {
				return nil
			}
			return s.removeSession(ctx, f.SessionID)
		case fact.OpCommit, fact.OpCommitEphemeral, fact.OpUpdate, fact.OpPromote:
			if f == nil {
				return nil
			}
			if s.targetTypes != nil && !s.targetTypes[f.Type] {
				return nil
			}
			return s.upsert(ctx, factID, f)
		default:
			return nil
		}
	}
}

func (s *Sink) docKey(id string) string     { return s.prefix + "doc:" + id }
func (s *Sink) sessionKey(id string) string { return s.prefix + "session:" + id }

func (s *Sink) extractText(payload map[string]any) string {
	if s.formatter != nil {
		return s.formatter(payload)
	}
	if s.textField != "" {
		if v, ok := payload[s.textField]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}
	return fmt.Sprint(payload)
}

func (s *Sink) upsert(ctx context.Context, factID string, f *fact.Fact) error {
	text := s.extractText(f.Payload)
	if text == "" {
		return nil
	}

	record := map[string]any{
		"text":   text,
		"type":   f.Type,
		"source": f.Source,
		"ts":     f.TS.UTC().Format(fact.TimeLayout),
	}
	for _, field := range s.metaFields {
		if v, ok := f.Payload[field]; ok {
			record["meta:"+field] = fmt.Sprint(v)
		}
	}
	if f.SessionID != "" {
		record["session_id"] = f.SessionID
	}

	// Promotion and updates can move a record between sessions; the
	// old session set must not keep claiming it.
	prevSession, err := s.client.HGet(ctx, s.docKey(factID), "session_id").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("reading index record %s: %w", factID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.docKey(factID), record)
	if f.SessionID != "" {
		pipe.SAdd(ctx, s.sessionKey(f.SessionID), factID)
	} else {
		pipe.HDel(ctx, s.docKey(factID), "session_id")
	}
	if prevSession != "" && prevSession != f.SessionID {
		pipe.SRem(ctx, s.sessionKey(prevSession), factID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indexing fact %s: %w", factID, err)
	}
	return nil
}

func (s *Sink) remove(ctx context.Context, factID string) error {
	if err := s.client.Del(ctx, s.docKey(factID)).Err(); err != nil {
		return fmt.Errorf("removing fact %s from index: %w", factID, err)
	}
	return nil
}

func (s *Sink) removeSession(ctx context.Context, sessionID string) error {
	key := s.sessionKey(sessionID)
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reading session index %s: %w", sessionID, err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.docKey(id))
	}
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clearing session index %s: %w", sessionID, err)
	}
	return nil
}
