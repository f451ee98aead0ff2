// Package replica defines the document store contract the reconciler drains
// the sync queue into. Documents are addressed by the member record key.
package replica

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("replica document not found")

// Document is the replica-side projection of one member record.
type Document map[string]any

// Store is implemented by every replica backend. Upsert replaces the whole
// document, so applying the same document twice leaves the replica unchanged.
// Delete of an absent document returns nil.
type Store interface {
	Upsert(ctx context.Context, recordKey string, doc Document) error
	Delete(ctx context.Context, recordKey string) error
	Get(ctx context.Context, recordKey string) (Document, error)
	Ping(ctx context.Context) error
	Close() error
}

// Lookup reads a dotted path such as "profile.address.city" from doc.
func (d Document) Lookup(path string) (any, bool) {
	var current any = map[string]any(d)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		segment := path[start:i]
		start = i + 1
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	case Document:
		return typed, true
	default:
		return nil, false
	}
}
