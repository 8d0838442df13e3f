// Package store defines the abstract document store that the correlation
// engine pulls records from: a logical collection name, a time partition
// hint and a filter expression in, a lazy ordered sequence of documents out.
package store

import (
	"context"
	"errors"

	"github.com/flowpbx/callsearch/internal/query"
)

// ErrUnavailable wraps a connectivity or timeout failure from the
// underlying store. It is the terminal error an Adapter yields on its
// sequence when the store itself cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// ErrMalformedDocument marks a document missing a field the caller
// requires. Nothing in this module returns it: an Adapter's Seq never
// yields it, and the narrow typed accessors built on top of Document
// (Document.String, correlate.ParseLeg, ...) report a missing field as
// ok=false, which callers absorb by skipping the record.
var ErrMalformedDocument = errors.New("malformed document")

// TimeRange bounds a search or store read, in milliseconds since epoch.
type TimeRange struct {
	Start int64
	End   int64
}

// Overlaps reports whether the range overlaps another range, inclusive.
func (t TimeRange) Overlaps(other TimeRange) bool {
	return t.Start <= other.End && other.Start <= t.End
}

// Pad widens the range by delta milliseconds on both ends.
func (t TimeRange) Pad(delta int64) TimeRange {
	return TimeRange{Start: t.Start - delta, End: t.End + delta}
}

// Document is an opaque key-value record as read from the store. The core
// never assumes a schema; every field is read through a narrow accessor
// that reports whether the field was present, never through direct map
// indexing, so a missing field is a (zero, false) result rather than a
// panic.
type Document map[string]any

// String returns the string field at key and whether it was present and
// of the right type.
func (d Document) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int64 returns the int64 field at key, accepting the numeric types a JSON
// decoder or database driver is likely to hand back (float64, int64, int).
func (d Document) Int64(key string) (int64, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Float64 returns the float64 field at key.
func (d Document) Float64(key string) (float64, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Bool returns the bool field at key.
func (d Document) Bool(key string) (bool, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Seq is a pull-based lazy sequence, the Go 1.23+ range-over-func shape.
// A non-nil error passed to yield is terminal: the producer must not call
// yield again afterward, and the consumer must stop ranging.
type Seq[T any] func(yield func(T, error) bool)

// Collect drains a Seq into a slice, stopping at the first error.
func Collect[T any](seq Seq[T]) ([]T, error) {
	var out []T
	var ferr error
	seq(func(v T, err error) bool {
		if err != nil {
			ferr = err
			return false
		}
		out = append(out, v)
		return true
	})
	return out, ferr
}

// Adapter is the abstract document store the correlation engine reads
// through. Implementations: internal/store/postgres (production) and
// internal/store/sqlite (embedded test harness).
type Adapter interface {
	// Find returns documents from the logical collection whose shards
	// overlap tr, filtered by preds, in ascending insertion order.
	Find(ctx context.Context, logical string, tr TimeRange, preds []query.Predicate) Seq[Document]

	// ListCollectionNames returns the physical collection names matching
	// a logical prefix (e.g. "sip_call_index" -> ["sip_call_index_202601", ...]).
	ListCollectionNames(ctx context.Context, prefix string) ([]string, error)
}
