package database

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

type fieldOp int

const (
	opSet fieldOp = iota
	opArrayUnion
	opArrayRemove
	opServerTimestamp
)

// FieldUpdate is one field operation of a Patch
type FieldUpdate struct {
	op     fieldOp
	value  interface{}
	values []interface{}
}

// Patch maps top-level field names to updates.
type Patch map[string]FieldUpdate

func Set(value interface{}) FieldUpdate {
	return FieldUpdate{op: opSet, value: value}
}

// ArrayUnion appends each value not already present.
func ArrayUnion(values ...interface{}) FieldUpdate {
	return FieldUpdate{op: opArrayUnion, values: values}
}

// ArrayRemove removes every element equal to one of values.
func ArrayRemove(values ...interface{}) FieldUpdate {
	return FieldUpdate{op: opArrayRemove, values: values}
}

// ServerTimestamp sets the field to the store's clock at write time.
func ServerTimestamp() FieldUpdate {
	return FieldUpdate{op: opServerTimestamp}
}

// Timestamp formats t the way stored timestamps are written.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// normalize converts v into its JSON value form (maps, slices, float64, string, bool, nil).
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeDocument(doc Document) (Document, error) {
	n, err := normalize(map[string]interface{}(doc))
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]interface{})
	if !ok {
		return Document{}, nil
	}
	return Document(m), nil
}

// applyPatch returns a copy of doc with patch applied.
func applyPatch(doc Document, patch Patch, now time.Time) (Document, error) {
	out, err := normalizeDocument(doc)
	if err != nil {
		return nil, err
	}
	for field, upd := range patch {
		switch upd.op {
		case opSet:
			v, err := normalize(upd.value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			out[field] = v
		case opServerTimestamp:
			out[field] = Timestamp(now)
		case opArrayUnion:
			arr, _ := out[field].([]interface{})
			for _, raw := range upd.values {
				v, err := normalize(raw)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", field, err)
				}
				if !containsValue(arr, v) {
					arr = append(arr, v)
				}
			}
			if arr == nil {
				arr = []interface{}{}
			}
			out[field] = arr
		case opArrayRemove:
			arr, _ := out[field].([]interface{})
			removals := make([]interface{}, 0, len(upd.values))
			for _, raw := range upd.values {
				v, err := normalize(raw)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", field, err)
				}
				removals = append(removals, v)
			}
			kept := make([]interface{}, 0, len(arr))
			for _, el := range arr {
				if !containsValue(removals, el) {
					kept = append(kept, el)
				}
			}
			out[field] = kept
		}
	}
	return out, nil
}

func containsValue(arr []interface{}, v interface{}) bool {
	for _, el := range arr {
		if reflect.DeepEqual(el, v) {
			return true
		}
	}
	return false
}

// matches reports whether a normalized document satisfies every filter.
func matches(doc Document, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		got := doc[f.Field]
		switch f.Op {
		case OpEqual:
			if !reflect.DeepEqual(got, want) {
				return false, nil
			}
		case OpArrayContains:
			arr, ok := got.([]interface{})
			if !ok || !containsValue(arr, want) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return true, nil
}

// Encode converts a typed value into a Document.
func Encode(v interface{}) (Document, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("value of type %T does not encode to a document", v)
	}
	return Document(m), nil
}

// Decode fills out from doc.
func Decode(doc Document, out interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
