package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flowpbx/callsearch/internal/correlate"
	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/search"
	"github.com/flowpbx/callsearch/internal/store"
	"github.com/flowpbx/callsearch/internal/store/sqlite"
)

func mustStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSearchRejectsInvertedWindow(t *testing.T) {
	s := mustStore(t)
	svc := search.NewService(s, query.StaticCatalog{}, correlate.DefaultConfig())

	_, err := svc.Search(context.Background(), search.Request{CreatedAt: 2000, TerminatedAt: 1000})
	if !errors.Is(err, search.ErrInvalidQuery) {
		t.Fatalf("Search() error = %v, want %v", err, search.ErrInvalidQuery)
	}
}

func TestSearchStreamsProjectedResults(t *testing.T) {
	s := mustStore(t)
	if err := s.Seed("sip_call_index", 1000, store.Document{
		"call_id": "A", "caller": "alice", "callee": "bob",
		"created_at": int64(1000), "terminated_at": int64(1200),
		"state": "answered", "src_addr": "1", "dst_addr": "2",
	}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	svc := search.NewService(s, query.StaticCatalog{}, correlate.DefaultConfig())
	seq, err := svc.Search(context.Background(), search.Request{CreatedAt: 0, TerminatedAt: 2000, Query: "caller=alice"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	var results []search.Result
	var streamErr error
	seq(func(r search.Result, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		results = append(results, r)
		return true
	})
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.ID == "" {
		t.Error("expected a generated ID")
	}
	if r.Caller != "alice" || r.Callee != "bob" {
		t.Errorf("unexpected result: %+v", r)
	}
	if len(r.CallID) != 1 || r.CallID[0] != "A" {
		t.Errorf("CallID = %v, want [A]", r.CallID)
	}
}

func TestSearchNoMatchesYieldsEmptySequence(t *testing.T) {
	s := mustStore(t)
	svc := search.NewService(s, query.StaticCatalog{}, correlate.DefaultConfig())

	seq, err := svc.Search(context.Background(), search.Request{CreatedAt: 0, TerminatedAt: 2000})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	count := 0
	seq(func(r search.Result, err error) bool {
		count++
		return true
	})
	if count != 0 {
		t.Errorf("got %d results, want 0", count)
	}
}
