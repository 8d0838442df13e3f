// Package sqlite is the embedded-store test harness: an in-process
// implementation of store.Adapter over modernc.org/sqlite, used by the
// correlation engine's and search service's tests. Predicates are
// evaluated in Go via
// github.com/theory/jsonpath, mirroring the native jsonpath operators the
// production Postgres adapter uses.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	_ "modernc.org/sqlite"

	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/store"
)

// queryObserver receives per-shard query timings. internal/metrics.Collector
// satisfies this.
type queryObserver interface {
	ObserveStoreQuery(logicalCollection string, d time.Duration)
}

// Store is an in-process document store keyed by physical shard name.
// Each logical collection is sharded by calendar month, exactly as the
// production Postgres adapter shards its tables, so both adapters share
// matching semantics.
type Store struct {
	db  *sql.DB
	seq atomic.Int64

	eval    *evaluator
	metrics queryObserver
}

// SetMetrics attaches an observer that records per-shard query durations.
// Optional; a nil observer (the zero value) records nothing.
func (s *Store) SetMetrics(m queryObserver) { s.metrics = m }

// Open creates an embedded SQLite-backed store. dsn is typically
// ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening embedded store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging embedded store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, eval: newEvaluator()}
	if err := s.createRegistry(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createRegistry() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS shard_registry (
		name TEXT PRIMARY KEY
	)`)
	if err != nil {
		return fmt.Errorf("creating shard registry: %w", err)
	}
	return nil
}

// ShardName returns the physical shard name for a logical collection and
// a millisecond timestamp, matching the production naming convention
// <logical>_<YYYYMM>.
func ShardName(logical string, epochMs int64) string {
	t := time.UnixMilli(epochMs).UTC()
	return fmt.Sprintf("%s_%04d%02d", logical, t.Year(), t.Month())
}

// Seed inserts doc into the physical shard for logical at epochMs,
// creating the shard table on first use. It exists for tests; it is not
// part of the store.Adapter
// interface — this system assumes records are already indexed.
func (s *Store) Seed(logical string, epochMs int64, doc store.Document) error {
	shard := ShardName(logical, epochMs)
	if err := s.ensureShard(shard); err != nil {
		return err
	}

	doc["_seq"] = s.seq.Add(1)
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	_, err = s.db.Exec(fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, quoteIdent(shard)), string(raw))
	if err != nil {
		return fmt.Errorf("inserting into shard %s: %w", shard, err)
	}
	return nil
}

func (s *Store) ensureShard(shard string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, data TEXT NOT NULL)`,
		quoteIdent(shard)))
	if err != nil {
		return fmt.Errorf("creating shard %s: %w", shard, err)
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO shard_registry (name) VALUES (?)`, shard)
	if err != nil {
		return fmt.Errorf("registering shard %s: %w", shard, err)
	}
	return nil
}

// ListCollectionNames implements store.Adapter.
func (s *Store) ListCollectionNames(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM shard_registry`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing shards: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	pattern := prefix + "_*"
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scanning shard name: %v", store.ErrUnavailable, err)
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, rows.Err()
}

// Find implements store.Adapter. It selects the shards overlapping tr and
// visits them one after another in name order (oldest month first),
// yielding each shard's documents that satisfy preds (evaluated in Go) in
// insertion order. A shard's matches are read in full and its rows closed
// before any of them is yielded.
func (s *Store) Find(ctx context.Context, logical string, tr store.TimeRange, preds []query.Predicate) store.Seq[store.Document] {
	return func(yield func(store.Document, error) bool) {
		shards, err := s.shardsOverlapping(ctx, logical, tr)
		if err != nil {
			yield(store.Document{}, err)
			return
		}

		for _, shard := range shards {
			start := time.Now()
			rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s ORDER BY id ASC`, quoteIdent(shard)))
			if err != nil {
				yield(store.Document{}, fmt.Errorf("%w: querying shard %s: %v", store.ErrUnavailable, shard, err))
				return
			}

			// The store runs on a single connection: close the shard's rows
			// before yielding, so a consumer's nested Find can get it.
			var docs []store.Document
			var scanErr error
			s.scanShard(ctx, rows, preds, func(d store.Document, err error) bool {
				if err != nil {
					scanErr = err
					return false
				}
				docs = append(docs, d)
				return true
			})
			rows.Close()
			if s.metrics != nil {
				s.metrics.ObserveStoreQuery(logical, time.Since(start))
			}
			if scanErr != nil {
				yield(store.Document{}, scanErr)
				return
			}
			for _, d := range docs {
				if !yield(d, nil) {
					return
				}
			}
		}
	}
}

func (s *Store) scanShard(ctx context.Context, rows *sql.Rows, preds []query.Predicate, yield func(store.Document, error) bool) bool {
	for rows.Next() {
		select {
		case <-ctx.Done():
			yield(store.Document{}, ctx.Err())
			return false
		default:
		}

		var raw string
		if err := rows.Scan(&raw); err != nil {
			yield(store.Document{}, fmt.Errorf("%w: scanning document: %v", store.ErrUnavailable, err))
			return false
		}

		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			// A row this store wrote itself should always decode; treat
			// a failure here as a store fault, not a malformed document.
			yield(store.Document{}, fmt.Errorf("%w: decoding document: %v", store.ErrUnavailable, err))
			return false
		}

		ok, err := s.eval.matches(decoded, preds)
		if err != nil {
			yield(store.Document{}, fmt.Errorf("%w: evaluating predicates: %v", store.ErrUnavailable, err))
			return false
		}
		if !ok {
			continue
		}

		if !yield(store.Document(decoded), nil) {
			return false
		}
	}
	if err := rows.Err(); err != nil {
		yield(store.Document{}, fmt.Errorf("%w: iterating shard: %v", store.ErrUnavailable, err))
		return false
	}
	return true
}

func (s *Store) shardsOverlapping(ctx context.Context, logical string, tr store.TimeRange) ([]string, error) {
	all, err := s.ListCollectionNames(ctx, logical)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range all {
		monthStart, ok := parseShardMonth(logical, name)
		if !ok {
			continue
		}
		monthEnd := monthStart.AddDate(0, 1, 0).Add(-time.Millisecond)
		shardRange := store.TimeRange{Start: monthStart.UnixMilli(), End: monthEnd.UnixMilli()}
		if shardRange.Overlaps(tr) {
			out = append(out, name)
		}
	}
	return out, nil
}

func parseShardMonth(logical, shard string) (time.Time, bool) {
	suffix := strings.TrimPrefix(shard, logical+"_")
	t, err := time.Parse("200601", suffix)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

const collectionAttributes = "attributes"

// LoadAttributes implements query.Source by reading every document ever
// seeded into the "attributes" logical collection, across all months.
func (s *Store) LoadAttributes(ctx context.Context) ([]query.AttributeDescriptor, error) {
	shards, err := s.ListCollectionNames(ctx, collectionAttributes)
	if err != nil {
		return nil, err
	}

	var out []query.AttributeDescriptor
	for _, shard := range shards {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s ORDER BY id ASC`, quoteIdent(shard)))
		if err != nil {
			return nil, fmt.Errorf("%w: querying attribute shard %s: %v", store.ErrUnavailable, shard, err)
		}
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: scanning attribute document: %v", store.ErrUnavailable, err)
			}
			var doc store.Document
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: decoding attribute document: %v", store.ErrUnavailable, err)
			}
			desc, ok := decodeAttribute(doc)
			if ok {
				out = append(out, desc)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: iterating attribute shard: %v", store.ErrUnavailable, err)
		}
	}
	return out, nil
}

func decodeAttribute(doc store.Document) (query.AttributeDescriptor, bool) {
	name, ok := doc.String("name")
	if !ok {
		return query.AttributeDescriptor{}, false
	}
	typeName, _ := doc.String("type")
	var t query.AttributeType
	switch typeName {
	case "int":
		t = query.AttributeTypeInt
	case "float":
		t = query.AttributeTypeFloat
	case "bool":
		t = query.AttributeTypeBool
	default:
		t = query.AttributeTypeString
	}
	return query.AttributeDescriptor{Name: name, Type: t}, true
}

// quoteIdent is a minimal identifier quoter for shard table names, which
// this package generates itself from a fixed charset (logical name plus
// "_YYYYMM"); it is not a general SQL-injection defense for arbitrary
// caller-supplied identifiers.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
