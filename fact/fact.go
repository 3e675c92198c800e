package fact

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the serialized timestamp format: ISO-8601 UTC with
// microsecond precision. All timestamps are stored in UTC.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Fact is one atomic, typed, id-addressed record of agent memory.
type Fact struct {
	// ID is the unique fact identifier (UUID, generated if absent).
	// Stable across updates.
	ID string `json:"id"`
	// Type is the key into the schema registry.
	Type string `json:"type"`
	// Payload is the validated fact body.
	Payload map[string]any `json:"payload"`
	// Source is an opaque provenance tag.
	Source string `json:"source,omitempty"`
	// SessionID binds the fact to a session scope. Empty means the
	// fact is durable; non-empty facts may be bulk-discarded.
	SessionID string `json:"session_id,omitempty"`
	// TS is set at creation and refreshed on update.
	TS time.Time `json:"ts"`

	// Extra holds unknown top-level keys found in loaded documents.
	// They are preserved through save/load cycles.
	Extra map[string]any `json:"-"`
}

// New creates a fact with a generated id and the current timestamp.
func New(typeName string, payload map[string]any) *Fact {
	return &Fact{
		ID:      uuid.New().String(),
		Type:    typeName,
		Payload: payload,
		TS:      time.Now().UTC(),
	}
}

// Ephemeral reports whether the fact is bound to a session.
func (f *Fact) Ephemeral() bool {
	return f.SessionID != ""
}

// Touch refreshes the fact timestamp.
func (f *Fact) Touch() {
	f.TS = time.Now().UTC()
}

// Clone returns a deep copy of the fact. Mutating the copy's payload
// does not affect the original.
func (f *Fact) Clone() *Fact {
	if f == nil {
		return nil
	}
	c := *f
	c.Payload = deepCopyMap(f.Payload)
	c.Extra = deepCopyMap(f.Extra)
	return &c
}

// reserved top-level document keys; everything else round-trips
// through Extra.
var reservedKeys = map[string]bool{
	"id": true, "type": true, "payload": true,
	"source": true, "session_id": true, "ts": true,
}

// MarshalJSON serializes the fact with its canonical top-level keys
// plus any preserved unknown keys.
func (f *Fact) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, 6+len(f.Extra))
	for k, v := range f.Extra {
		if !reservedKeys[k] {
			doc[k] = v
		}
	}
	doc["id"] = f.ID
	doc["type"] = f.Type
	doc["payload"] = f.Payload
	doc["source"] = nullableString(f.Source)
	doc["session_id"] = nullableString(f.SessionID)
	doc["ts"] = f.TS.UTC().Format(TimeLayout)
	return json.Marshal(doc)
}

// UnmarshalJSON parses a fact document, capturing unknown top-level
// keys into Extra.
func (f *Fact) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	parsed, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*f = *parsed
	return nil
}

// FromDocument builds a fact from a decoded JSON document.
func FromDocument(doc map[string]any) (*Fact, error) {
	f := &Fact{}
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("fact document missing id")
	}
	f.ID = id
	f.Type, _ = doc["type"].(string)
	if p, ok := doc["payload"].(map[string]any); ok {
		f.Payload = p
	} else {
		f.Payload = map[string]any{}
	}
	f.Source, _ = doc["source"].(string)
	f.SessionID, _ = doc["session_id"].(string)

	if raw, ok := doc["ts"].(string); ok && raw != "" {
		ts, err := ParseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", id, err)
		}
		f.TS = ts
	}

	for k, v := range doc {
		if reservedKeys[k] {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]any)
		}
		f.Extra[k] = v
	}
	return f, nil
}

// Document returns the fact as a decoded JSON document, including
// preserved unknown keys.
func (f *Fact) Document() map[string]any {
	doc := make(map[string]any, 6+len(f.Extra))
	for k, v := range f.Extra {
		if !reservedKeys[k] {
			doc[k] = v
		}
	}
	doc["id"] = f.ID
	doc["type"] = f.Type
	doc["payload"] = f.Payload
	doc["source"] = nullableString(f.Source)
	doc["session_id"] = nullableString(f.SessionID)
	doc["ts"] = f.TS.UTC().Format(TimeLayout)
	return doc
}

// ParseTime parses a serialized fact timestamp. RFC 3339 forms with
// other fractional precision are accepted for compatibility.
func ParseTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(TimeLayout, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
