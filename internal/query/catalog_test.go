package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeSource struct {
	attrs   []AttributeDescriptor
	err     error
	loads   atomic.Int64
	blockCh chan struct{}
}

func (f *fakeSource) LoadAttributes(ctx context.Context) ([]AttributeDescriptor, error) {
	f.loads.Add(1)
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.attrs, nil
}

func TestCachedCatalogLookupPopulatesOnFirstUse(t *testing.T) {
	src := &fakeSource{attrs: []AttributeDescriptor{
		{Name: "rtp.mos", Type: AttributeTypeFloat},
	}}
	c := NewCachedCatalog(src)

	desc, ok := c.Lookup(context.Background(), "rtp.mos")
	if !ok {
		t.Fatal("expected rtp.mos to be found")
	}
	if desc.Type != AttributeTypeFloat {
		t.Errorf("Type = %v, want %v", desc.Type, AttributeTypeFloat)
	}

	_, ok = c.Lookup(context.Background(), "unknown")
	if ok {
		t.Error("expected unknown path to report not found")
	}

	if src.loads.Load() != 1 {
		t.Errorf("source loaded %d times, want 1", src.loads.Load())
	}
}

func TestCachedCatalogLookupErrorDegradesToNotFound(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	c := NewCachedCatalog(src)

	_, ok := c.Lookup(context.Background(), "rtp.mos")
	if ok {
		t.Error("expected lookup to report not found on source error")
	}
}

func TestCachedCatalogConcurrentLookupsShareOnePopulation(t *testing.T) {
	src := &fakeSource{
		attrs:   []AttributeDescriptor{{Name: "rtp.mos", Type: AttributeTypeFloat}},
		blockCh: make(chan struct{}),
	}
	c := NewCachedCatalog(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Lookup(context.Background(), "rtp.mos")
		}()
	}
	close(src.blockCh)
	wg.Wait()

	if src.loads.Load() != 1 {
		t.Errorf("source loaded %d times, want 1", src.loads.Load())
	}
}

func TestCachedCatalogRefreshReplacesSet(t *testing.T) {
	src := &fakeSource{attrs: []AttributeDescriptor{{Name: "rtp.mos", Type: AttributeTypeFloat}}}
	c := NewCachedCatalog(src)

	if _, ok := c.Lookup(context.Background(), "rtp.mos"); !ok {
		t.Fatal("expected rtp.mos to be found before refresh")
	}

	src.attrs = []AttributeDescriptor{{Name: "sip.error_code", Type: AttributeTypeInt}}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, ok := c.Lookup(context.Background(), "rtp.mos"); ok {
		t.Error("expected rtp.mos to be gone after refresh")
	}
	if _, ok := c.Lookup(context.Background(), "sip.error_code"); !ok {
		t.Error("expected sip.error_code to be present after refresh")
	}
}

func TestCachedCatalogSize(t *testing.T) {
	src := &fakeSource{attrs: []AttributeDescriptor{
		{Name: "rtp.mos", Type: AttributeTypeFloat},
		{Name: "sip.error_code", Type: AttributeTypeInt},
	}}
	c := NewCachedCatalog(src)
	c.Lookup(context.Background(), "rtp.mos")

	if got := c.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
}

func TestStaticCatalogLookup(t *testing.T) {
	c := StaticCatalog{"caller": AttributeDescriptor{Name: "caller", Type: AttributeTypeString}}
	if _, ok := c.Lookup(context.Background(), "caller"); !ok {
		t.Error("expected caller to be found")
	}
	if _, ok := c.Lookup(context.Background(), "callee"); ok {
		t.Error("expected callee to report not found")
	}
}
