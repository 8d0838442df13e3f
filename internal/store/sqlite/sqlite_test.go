package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/store"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func epochMs(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func TestShardName(t *testing.T) {
	ts := epochMs(2026, time.March, 15)
	got := ShardName("sip_call_index", ts)
	want := "sip_call_index_202603"
	if got != want {
		t.Errorf("ShardName() = %q, want %q", got, want)
	}
}

func TestFindReturnsOnlyDocumentsMatchingPredicates(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	ts := epochMs(2026, time.March, 1)
	if err := s.Seed("sip_call_index", ts, store.Document{"call_id": "c1", "caller": "alice"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.Seed("sip_call_index", ts, store.Document{"call_id": "c2", "caller": "bob"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	tr := store.TimeRange{Start: ts - 1000, End: ts + 1000}
	preds := []query.Predicate{{Path: "caller", Op: query.Eq, Value: "alice"}}

	docs, err := store.Collect(s.Find(ctx, "sip_call_index", tr, preds))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if callID, _ := docs[0].String("call_id"); callID != "c1" {
		t.Errorf("call_id = %q, want %q", callID, "c1")
	}
}

func TestFindOnlyReadsShardsOverlappingTimeRange(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	jan := epochMs(2026, time.January, 15)
	mar := epochMs(2026, time.March, 15)
	if err := s.Seed("sip_call_index", jan, store.Document{"call_id": "jan-call"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.Seed("sip_call_index", mar, store.Document{"call_id": "mar-call"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	tr := store.TimeRange{Start: mar - 1000, End: mar + 1000}
	docs, err := store.Collect(s.Find(ctx, "sip_call_index", tr, nil))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if callID, _ := docs[0].String("call_id"); callID != "mar-call" {
		t.Errorf("call_id = %q, want %q", callID, "mar-call")
	}
}

func TestFindVisitsShardsInNameOrder(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	jan := epochMs(2026, time.January, 15)
	feb := epochMs(2026, time.February, 15)
	if err := s.Seed("sip_call_index", feb, store.Document{"call_id": "feb-1"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.Seed("sip_call_index", jan, store.Document{"call_id": "jan-1"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	tr := store.TimeRange{Start: jan - 1000, End: feb + 1000}
	docs, err := store.Collect(s.Find(ctx, "sip_call_index", tr, nil))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	// Shards are visited in name-sorted order (202601 before 202602)
	// regardless of seed order.
	if callID, _ := docs[0].String("call_id"); callID != "jan-1" {
		t.Errorf("first doc call_id = %q, want %q", callID, "jan-1")
	}
}

func TestListCollectionNamesMatchesLogicalPrefix(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	ts := epochMs(2026, time.March, 1)
	if err := s.Seed("sip_call_index", ts, store.Document{"call_id": "c1"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.Seed("rtpr_rtp_index", ts, store.Document{"started_at": ts}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	names, err := s.ListCollectionNames(ctx, "sip_call_index")
	if err != nil {
		t.Fatalf("ListCollectionNames() error = %v", err)
	}
	if len(names) != 1 || names[0] != "sip_call_index_202603" {
		t.Errorf("names = %v, want [sip_call_index_202603]", names)
	}
}

func TestLoadAttributesAcrossShards(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	jan := epochMs(2026, time.January, 1)
	feb := epochMs(2026, time.February, 1)
	if err := s.Seed("attributes", jan, store.Document{"name": "rtp.mos", "type": "float"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.Seed("attributes", feb, store.Document{"name": "sip.error_code", "type": "int"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	attrs, err := s.LoadAttributes(ctx)
	if err != nil {
		t.Fatalf("LoadAttributes() error = %v", err)
	}
	if len(attrs) != 2 {
		t.Fatalf("got %d attrs, want 2", len(attrs))
	}
}

func TestFindWithInOperator(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	ts := epochMs(2026, time.March, 1)
	if err := s.Seed("sip_call_index", ts, store.Document{"call_id": "c1"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.Seed("sip_call_index", ts, store.Document{"call_id": "c2"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	tr := store.TimeRange{Start: ts - 1000, End: ts + 1000}
	preds := []query.Predicate{{Path: "call_id", Op: query.In, Value: []string{"c2", "c3"}}}

	docs, err := store.Collect(s.Find(ctx, "sip_call_index", tr, preds))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if callID, _ := docs[0].String("call_id"); callID != "c2" {
		t.Errorf("call_id = %q, want %q", callID, "c2")
	}
}
