package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Normalize converts v into the JSON data model used for stored documents:
// map[string]any, []any, string, bool, nil, int64 for integral numbers and
// float64 otherwise. Every backend stores normalized values so that reads are
// identical regardless of where a document came from.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return decodeValue(raw)
}

// DecodeFields parses a JSON object into normalized Fields.
func DecodeFields(raw []byte) (Fields, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document body is %T, not an object", v)
	}
	return Fields(m), nil
}

// NormalizeFields normalizes a whole document body.
func NormalizeFields(data Fields) (Fields, error) {
	if data == nil {
		return Fields{}, nil
	}
	raw, err := json.Marshal(map[string]any(data))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return DecodeFields(raw)
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return convertNumbers(v), nil
}

func convertNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = convertNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = convertNumbers(e)
		}
		return t
	default:
		return v
	}
}

// ApplyUpdates returns a copy of data with updates applied in order. The
// input is not modified.
func ApplyUpdates(data Fields, updates []Update) (Fields, error) {
	out, err := NormalizeFields(data)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if err := setPath(out, u.Path, u.Value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func setPath(data Fields, path string, value any) error {
	if path == "" {
		return fmt.Errorf("update path is empty")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("update path %q has an empty segment", path)
		}
	}
	v, err := Normalize(value)
	if err != nil {
		return fmt.Errorf("update %q: %w", path, err)
	}

	cur := map[string]any(data)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
