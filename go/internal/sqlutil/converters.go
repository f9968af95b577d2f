package sqlutil

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/sqlc-dev/pqtype"
)

// ToNullJSON encodes v for a jsonb column. nil pointers, maps and slices
// become SQL NULL.
func ToNullJSON(v any) (pqtype.NullRawMessage, error) {
	if isNil(v) {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("encode jsonb column: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

// FromNullJSON decodes a jsonb column into dst. NULL leaves dst untouched.
func FromNullJSON(val pqtype.NullRawMessage, dst any, column string) error {
	if !val.Valid {
		return nil
	}
	if err := json.Unmarshal(val.RawMessage, dst); err != nil {
		return fmt.Errorf("decode %s: %w", column, err)
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
