package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// CatalogScheduler runs a periodic CachedCatalog.Refresh job so the process
// picks up newly observed attributes without restarting.
type CatalogScheduler struct {
	scheduler gocron.Scheduler
	catalog   *CachedCatalog
}

// NewCatalogScheduler creates a scheduler that refreshes catalog every
// interval once started. The job is registered but not run until Start.
func NewCatalogScheduler(catalog *CachedCatalog, interval time.Duration) (*CatalogScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating catalog refresh scheduler: %w", err)
	}

	cs := &CatalogScheduler{scheduler: s, catalog: catalog}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(cs.runRefresh),
		gocron.WithName("attribute-catalog-refresh"),
	)
	if err != nil {
		return nil, fmt.Errorf("registering catalog refresh job: %w", err)
	}

	return cs, nil
}

func (cs *CatalogScheduler) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cs.catalog.Refresh(ctx); err != nil {
		slog.Error("attribute catalog refresh failed", "error", err)
		return
	}
	slog.Debug("attribute catalog refreshed", "size", cs.catalog.Size())
}

// Start begins the periodic refresh.
func (cs *CatalogScheduler) Start() {
	cs.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for an in-flight refresh to finish.
func (cs *CatalogScheduler) Stop() error {
	return cs.scheduler.Shutdown()
}
