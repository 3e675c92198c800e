package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// RegisterModel registers a struct type as the schema for typeName.
// The derived validator round-trips the payload through the struct:
// unknown fields are rejected, missing fields take their zero value,
// and the normalized payload is the struct's JSON form. The model's
// reflect type is remembered for ResolveType.
func (r *Registry) RegisterModel(typeName string, model any, c *Constraint) error {
	t := indirectType(reflect.TypeOf(model))
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("model for type %q must be a struct, got %T", typeName, model)
	}

	r.Register(typeName, modelValidator(typeName, t), c)

	r.mu.Lock()
	r.reverse[typeKey(t)] = typeName
	r.mu.Unlock()
	return nil
}

// ResolveType maps a model handle (struct value or pointer) back to
// its registered type name. Returns false if the model was never
// registered via RegisterModel.
func (r *Registry) ResolveType(model any) (string, bool) {
	t := indirectType(reflect.TypeOf(model))
	if t == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.reverse[typeKey(t)]
	return name, ok
}

func modelValidator(typeName string, t reflect.Type) Validator {
	return func(payload map[string]any) (map[string]any, error) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &ValidationError{Type: typeName, Err: err}
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		instance := reflect.New(t).Interface()
		if err := dec.Decode(instance); err != nil {
			return nil, &ValidationError{Type: typeName, Reason: err.Error(), Err: err}
		}

		normalized, err := json.Marshal(instance)
		if err != nil {
			return nil, &ValidationError{Type: typeName, Err: err}
		}
		var out map[string]any
		if err := json.Unmarshal(normalized, &out); err != nil {
			return nil, &ValidationError{Type: typeName, Err: err}
		}
		return out, nil
	}
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func typeKey(t reflect.Type) string {
	return t.PkgPath() + "." + t.Name()
}
