package redisearch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/memstack/memstack/fact"
)

func openTestSink(t *testing.T, opts Options) (*Sink, *redis.Client) {
	t.Helper()
	addr := os.Getenv("MEMSTACK_TEST_REDIS")
	if addr == "" {
		t.Skip("MEMSTACK_TEST_REDIS not set; skipping redis sink tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis unreachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })

	opts.KeyPrefix = "memidxtest:" + uuid.New().String()[:8] + ":"
	return New(client, opts), client
}

func TestSinkIndexesCommitsAndDeletes(t *testing.T) {
	s, client := openTestSink(t, Options{TextField: "text", MetadataFields: []string{"topic"}})
	hook := s.Hook()
	ctx := context.Background()

	f := fact.New("note", map[string]any{"text": "the matrix has you", "topic": "movies"})
	if err := hook(ctx, fact.OpCommit, f.ID, f); err != nil {
		t.Fatalf("commit hook: %v", err)
	}

	record, err := client.HGetAll(ctx, s.docKey(f.ID)).Result()
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if record["text"] != "the matrix has you" || record["type"] != "note" {
		t.Errorf("record mismatch: %v", record)
	}
	if record["meta:topic"] != "movies" {
		t.Errorf("metadata missing: %v", record)
	}

	if err := hook(ctx, fact.OpDelete, f.ID, f); err != nil {
		t.Fatalf("delete hook: %v", err)
	}
	exists, err := client.Exists(ctx, s.docKey(f.ID)).Result()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists != 0 {
		t.Error("record survived delete")
	}
}

func TestSinkTargetTypes(t *testing.T) {
	s, client := openTestSink(t, Options{TargetTypes: []string{"insight"}, TextField: "text"})
	hook := s.Hook()
	ctx := context.Background()

	noise := fact.New("scratch", map[string]any{"text": "ignore me"})
	if err := hook(ctx, fact.OpCommit, noise.ID, noise); err != nil {
		t.Fatalf("hook: %v", err)
	}
	exists, _ := client.Exists(ctx, s.docKey(noise.ID)).Result()
	if exists != 0 {
		t.Error("untargeted type was indexed")
	}
}

func TestSinkDiscardSessionClearsRecords(t *testing.T) {
	s, client := openTestSink(t, Options{TextField: "text"})
	hook := s.Hook()
	ctx := context.Background()

	f := fact.New("note", map[string]any{"text": "ephemeral"})
	f.SessionID = "s1"
	if err := hook(ctx, fact.OpCommitEphemeral, f.ID, f); err != nil {
		t.Fatalf("hook: %v", err)
	}

	marker := &fact.Fact{SessionID: "s1", TS: time.Now().UTC()}
	if err := hook(ctx, fact.OpDiscardSession, "", marker); err != nil {
		t.Fatalf("discard hook: %v", err)
	}

	exists, _ := client.Exists(ctx, s.docKey(f.ID)).Result()
	if exists != 0 {
		t.Error("session record survived discard")
	}
}

func TestSinkPromotionLeavesSessionSet(t *testing.T) {
	s, client := openTestSink(t, Options{TextField: "text"})
	hook := s.Hook()
	ctx := context.Background()

	f := fact.New("note", map[string]any{"text": "keep me"})
	f.SessionID = "s1"
	if err := hook(ctx, fact.OpCommitEphemeral, f.ID, f); err != nil {
		t.Fatalf("hook: %v", err)
	}

	promoted := f.Clone()
	promoted.SessionID = ""
	if err := hook(ctx, fact.OpPromote, promoted.ID, promoted); err != nil {
		t.Fatalf("promote hook: %v", err)
	}

	// A later discard of s1 must not remove the promoted record.
	marker := &fact.Fact{SessionID: "s1", TS: time.Now().UTC()}
	if err := hook(ctx, fact.OpDiscardSession, "", marker); err != nil {
		t.Fatalf("discard hook: %v", err)
	}
	exists, _ := client.Exists(ctx, s.docKey(f.ID)).Result()
	if exists != 1 {
		t.Error("promoted record removed by session discard")
	}
}
