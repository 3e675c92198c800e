// Package sink provides reference hook implementations and adapters
// for keeping secondary indexes consistent with the primary store.
package sink

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/store"
)

// LogSink returns a hook that logs every operation it observes. It
// never fails, so it cannot trigger compensation; useful as an audit
// tap and in tests.
func LogSink(logger *log.Logger) store.Hook {
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		kv := []any{"op", op, "id", factID}
		if f != nil {
			kv = append(kv, "type", f.Type)
			if f.SessionID != "" {
				kv = append(kv, "session", f.SessionID)
			}
		}
		logger.Info("memory mutation", kv...)
		return nil
	}
}

// Filtered wraps a hook so it only observes facts of the given types.
// DELETE and DISCARD_SESSION pass through regardless, because the
// sink may hold records for ids whose type is no longer loadable.
func Filtered(h store.Hook, types ...string) store.Hook {
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		if op != fact.OpDelete && op != fact.OpDiscardSession {
			if f == nil || !wanted[f.Type] {
				return nil
			}
		}
		return h(ctx, op, factID, f)
	}
}
