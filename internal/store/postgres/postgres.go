// Package postgres is the production store.Adapter: documents held as
// JSONB in time-sharded tables, filtered with PostgreSQL's native
// jsonpath operators.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flowpbx/callsearch/internal/merge"
	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/store"
)

// queryObserver receives per-shard query timings. internal/metrics.Collector
// satisfies this.
type queryObserver interface {
	ObserveStoreQuery(logicalCollection string, d time.Duration)
}

// Store is a PostgreSQL-backed store.Adapter.
type Store struct {
	db      *sql.DB
	metrics queryObserver
}

// SetMetrics attaches an observer that records per-shard query durations.
// Optional; a nil observer (the zero value) records nothing.
func (s *Store) SetMetrics(m queryObserver) { s.metrics = m }

// Open connects to dsn, verifies reachability and runs pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the store is currently reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
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

// Find implements store.Adapter. Per-shard reads are issued concurrently
// via errgroup, then combined with internal/merge into one ordered
// stream keyed by document_seq, the global insertion sequence shared
// across all shard tables.
func (s *Store) Find(ctx context.Context, logical string, tr store.TimeRange, preds []query.Predicate) store.Seq[store.Document] {
	return func(yield func(store.Document, error) bool) {
		shards, err := s.shardsOverlapping(ctx, logical, tr)
		if err != nil {
			yield(store.Document{}, err)
			return
		}

		path, vars, ok := buildFilter(preds)
		if !ok {
			// An unsafe or unsupported predicate shape matches nothing,
			// rather than silently ignoring the filter.
			return
		}

		results := make([][]store.Document, len(shards))
		g, gctx := errgroup.WithContext(ctx)
		for i, shard := range shards {
			i, shard := i, shard
			g.Go(func() error {
				start := time.Now()
				docs, err := s.queryShard(gctx, shard, path, vars)
				if s.metrics != nil {
					s.metrics.ObserveStoreQuery(logical, time.Since(start))
				}
				if err != nil {
					return err
				}
				results[i] = docs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			yield(store.Document{}, err)
			return
		}

		seqOf := func(d store.Document) int64 {
			v, _ := d.Int64("document_seq")
			return v
		}
		var sources []store.Seq[store.Document]
		for _, docs := range results {
			sources = append(sources, sliceSeq(docs))
		}
		merge.Merge(seqOf, sources...)(yield)
	}
}

func (s *Store) queryShard(ctx context.Context, shard, path string, vars map[string]any) ([]store.Document, error) {
	varsJSON, err := marshalVars(vars)
	if err != nil {
		return nil, fmt.Errorf("encoding jsonpath variables: %w", err)
	}

	sqlText := fmt.Sprintf(
		`SELECT data, document_seq FROM %s WHERE ($1 = '' OR jsonb_path_exists(data, $1::jsonpath, $2::jsonb)) ORDER BY id ASC`,
		quoteIdent(shard))

	rows, err := s.db.QueryContext(ctx, sqlText, path, string(varsJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: querying shard %s: %v", store.ErrUnavailable, shard, err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var raw []byte
		var seq int64
		if err := rows.Scan(&raw, &seq); err != nil {
			return nil, fmt.Errorf("%w: scanning document: %v", store.ErrUnavailable, err)
		}
		var doc store.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: decoding document: %v", store.ErrUnavailable, err)
		}
		doc["document_seq"] = seq
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating shard %s: %v", store.ErrUnavailable, shard, err)
	}
	return out, nil
}

// LoadAttributes implements query.Source, reading the "attributes"
// logical collection across every shard.
func (s *Store) LoadAttributes(ctx context.Context) ([]query.AttributeDescriptor, error) {
	const logical = "attributes"
	shards, err := s.ListCollectionNames(ctx, logical)
	if err != nil {
		return nil, err
	}

	var out []query.AttributeDescriptor
	for _, shard := range shards {
		docs, err := s.queryShard(ctx, shard, "", nil)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			name, ok := d.String("name")
			if !ok {
				continue
			}
			typeName, _ := d.String("type")
			out = append(out, query.AttributeDescriptor{Name: name, Type: attributeTypeOf(typeName)})
		}
	}
	return out, nil
}

func attributeTypeOf(name string) query.AttributeType {
	switch name {
	case "int":
		return query.AttributeTypeInt
	case "float":
		return query.AttributeTypeFloat
	case "bool":
		return query.AttributeTypeBool
	default:
		return query.AttributeTypeString
	}
}

func (s *Store) shardsOverlapping(ctx context.Context, logical string, tr store.TimeRange) ([]string, error) {
	all, err := s.ListCollectionNames(ctx, logical)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range all {
		t, ok := parseShardMonth(logical, name)
		if !ok {
			continue
		}
		monthEnd := t.AddDate(0, 1, 0).Add(-time.Millisecond)
		shardRange := store.TimeRange{Start: t.UnixMilli(), End: monthEnd.UnixMilli()}
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

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sliceSeq adapts an already-fetched slice into a Seq for the merge step.
func sliceSeq(docs []store.Document) store.Seq[store.Document] {
	return func(yield func(store.Document, error) bool) {
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}

