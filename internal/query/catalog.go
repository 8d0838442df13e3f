package query

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// AttributeType is the coercion target for a query predicate's literal
// value, as reported by the attribute catalog.
type AttributeType int

const (
	AttributeTypeString AttributeType = iota
	AttributeTypeInt
	AttributeTypeFloat
	AttributeTypeBool
)

// AttributeDescriptor describes one known query attribute.
type AttributeDescriptor struct {
	Name    string
	Type    AttributeType
	Options []string
}

// AttributeCatalog returns the set of known attribute descriptors used to
// type-coerce query predicates. It is an external collaborator this
// package only consumes, not populates.
type AttributeCatalog interface {
	Lookup(ctx context.Context, path string) (AttributeDescriptor, bool)
}

// Source populates the catalog from wherever attribute descriptors live
// (the store's "attributes" logical collection in production).
type Source interface {
	LoadAttributes(ctx context.Context) ([]AttributeDescriptor, error)
}

// CachedCatalog is a process-wide AttributeCatalog populated on first use
// and never invalidated except by an explicit Refresh call. A single
// in-flight population is shared across concurrent Lookup calls via
// singleflight so a cache-cold burst of searches issues exactly one
// Source load.
type CachedCatalog struct {
	source Source

	mu        sync.RWMutex
	populated bool
	byPath    map[string]AttributeDescriptor

	group singleflight.Group
}

// NewCachedCatalog creates a catalog backed by source. Nothing is loaded
// until the first Lookup or an explicit Refresh.
func NewCachedCatalog(source Source) *CachedCatalog {
	return &CachedCatalog{
		source: source,
		byPath: make(map[string]AttributeDescriptor),
	}
}

// Lookup returns the descriptor for path, populating the cache on first
// call. A Source error on first population is returned to every waiting
// caller; Lookup then reports (zero, false) rather than surfacing the
// error, consistent with the parser's "unknown path degrades to string"
// rule.
func (c *CachedCatalog) Lookup(ctx context.Context, path string) (AttributeDescriptor, bool) {
	c.mu.RLock()
	if c.populated {
		d, ok := c.byPath[path]
		c.mu.RUnlock()
		return d, ok
	}
	c.mu.RUnlock()

	if err := c.populate(ctx); err != nil {
		return AttributeDescriptor{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byPath[path]
	return d, ok
}

// Refresh forces a reload from the source, replacing the cached set.
// Intended to be invoked periodically by a scheduler (e.g. gocron) since
// the catalog is otherwise never invalidated within a process lifetime.
func (c *CachedCatalog) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		attrs, err := c.source.LoadAttributes(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading attribute catalog: %w", err)
		}
		byPath := make(map[string]AttributeDescriptor, len(attrs))
		for _, a := range attrs {
			byPath[a.Name] = a
		}
		c.mu.Lock()
		c.byPath = byPath
		c.populated = true
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *CachedCatalog) populate(ctx context.Context) error {
	_, err, _ := c.group.Do("populate", func() (any, error) {
		c.mu.RLock()
		already := c.populated
		c.mu.RUnlock()
		if already {
			return nil, nil
		}
		attrs, err := c.source.LoadAttributes(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading attribute catalog: %w", err)
		}
		byPath := make(map[string]AttributeDescriptor, len(attrs))
		for _, a := range attrs {
			byPath[a.Name] = a
		}
		c.mu.Lock()
		c.byPath = byPath
		c.populated = true
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// Size returns the number of attributes currently cached, for metrics.
func (c *CachedCatalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPath)
}

// StaticCatalog is a fixed AttributeCatalog useful for tests and the CLI
// when no live attribute source is configured.
type StaticCatalog map[string]AttributeDescriptor

// Lookup implements AttributeCatalog.
func (s StaticCatalog) Lookup(_ context.Context, path string) (AttributeDescriptor, bool) {
	d, ok := s[path]
	return d, ok
}
