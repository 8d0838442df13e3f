package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CatalogSizeProvider exposes the number of attributes currently held in
// the attribute catalog cache.
type CatalogSizeProvider interface {
	Size() int
}

// Collector is a prometheus.Collector that gathers correlation search
// metrics at scrape time, plus the request-scoped histograms recorded by
// the HTTP and store layers as they run.
type Collector struct {
	catalog   CatalogSizeProvider
	startTime time.Time

	searchDuration     *prometheus.HistogramVec
	resultsTotal       prometheus.Counter
	legsPerCall        prometheus.Histogram
	storeQueryDuration *prometheus.HistogramVec

	catalogSizeDesc *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a metrics collector. catalog may be nil if the
// catalog isn't ready yet at construction time.
func NewCollector(catalog CatalogSizeProvider, startTime time.Time) *Collector {
	return &Collector{
		catalog:   catalog,
		startTime: startTime,

		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callsearch_search_duration_seconds",
			Help:    "Time to stream a complete search response, by outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		resultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callsearch_results_total",
			Help: "Total correlated calls yielded across all searches",
		}),

		legsPerCall: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "callsearch_legs_per_call",
			Help:    "Number of legs a correlated call accumulated before being yielded",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		}),

		storeQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callsearch_store_query_duration_seconds",
			Help:    "Time to complete a single per-shard store query",
			Buckets: prometheus.DefBuckets,
		}, []string{"logical_collection"}),

		catalogSizeDesc: prometheus.NewDesc(
			"callsearch_catalog_size",
			"Number of attributes currently held in the attribute catalog cache",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callsearch_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// ObserveSearch records the duration of a completed search request.
func (c *Collector) ObserveSearch(outcome string, d time.Duration) {
	c.searchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveResult records one yielded correlated call and its leg count.
func (c *Collector) ObserveResult(legCount int) {
	c.resultsTotal.Inc()
	c.legsPerCall.Observe(float64(legCount))
}

// ObserveStoreQuery records the duration of a single per-shard store query.
func (c *Collector) ObserveStoreQuery(logicalCollection string, d time.Duration) {
	c.storeQueryDuration.WithLabelValues(logicalCollection).Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.searchDuration.Describe(ch)
	ch <- c.resultsTotal.Desc()
	c.legsPerCall.Describe(ch)
	c.storeQueryDuration.Describe(ch)
	ch <- c.catalogSizeDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.searchDuration.Collect(ch)
	ch <- c.resultsTotal
	c.legsPerCall.Collect(ch)
	c.storeQueryDuration.Collect(ch)

	if c.catalog != nil {
		ch <- prometheus.MustNewConstMetric(
			c.catalogSizeDesc, prometheus.GaugeValue,
			float64(c.catalog.Size()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
