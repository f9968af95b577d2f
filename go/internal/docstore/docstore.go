// Package docstore is a small document-database abstraction with per-document
// change subscriptions and version preconditions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a version precondition fails.
	ErrConflict = errors.New("document version conflict")
)

// Fields is the body of a document.
type Fields map[string]any

// Snapshot is a full read of one document.
type Snapshot struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Exists     bool      `json:"exists"`
	Version    uint64    `json:"version"`
	Data       Fields    `json:"data,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DataTo decodes the snapshot body into v.
func (s Snapshot) DataTo(v any) error {
	if !s.Exists {
		return fmt.Errorf("%s/%s: %w", s.Collection, s.ID, ErrNotFound)
	}
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("marshal snapshot data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode snapshot data: %w", err)
	}
	return nil
}

// FieldsOf encodes v, usually a tagged struct, as a document body.
func FieldsOf(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return DecodeFields(raw)
}

// Update sets the field at a dot-separated path. Intermediate maps are created.
type Update struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Set is shorthand for an Update literal.
func Set(path string, value any) Update {
	return Update{Path: path, Value: value}
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Where is shorthand for an equality Filter.
func Where(path string, value any) Filter {
	return Filter{Path: path, Value: value}
}

// SnapshotFunc receives snapshots for a subscription. Calls for one
// subscription never overlap and carry non-decreasing versions.
type SnapshotFunc func(Snapshot)

// UpdateOptions carries optional update preconditions.
type UpdateOptions struct {
	ExpectedVersion uint64
	HasExpected     bool
}

// UpdateOption configures an Update call.
type UpdateOption func(*UpdateOptions)

// WithVersion rejects the update with ErrConflict unless the stored version equals v.
func WithVersion(v uint64) UpdateOption {
	return func(o *UpdateOptions) {
		o.ExpectedVersion = v
		o.HasExpected = true
	}
}

// ApplyOptions folds opts into an UpdateOptions value.
func ApplyOptions(opts []UpdateOption) UpdateOptions {
	var o UpdateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	Add(ctx context.Context, collection string, data Fields) (string, error)
	Update(ctx context.Context, collection, id string, updates []Update, opts ...UpdateOption) (Snapshot, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
	// Subscribe delivers the current snapshot, then one per change, until
	// the returned cancel func is called or ctx ends.
	Subscribe(ctx context.Context, collection, id string, fn SnapshotFunc) (func(), error)
	Close() error
}

// Key joins a collection and id into a single map key.
func Key(collection, id string) string {
	return collection + "/" + id
}

// Matches reports whether data satisfies every filter.
func Matches(data Fields, filters []Filter) bool {
	for _, f := range filters {
		want, err := Normalize(f.Value)
		if err != nil {
			return false
		}
		got, ok := data[f.Path]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !equalValues(got, want) {
			return false
		}
	}
	return true
}
