// Package metrics holds the Prometheus collectors shared by the pipeline components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scraping, storage, and translation.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	CategoryLookups   *prometheus.CounterVec
	Validations       *prometheus.CounterVec
	StoreOps          *prometheus.CounterVec
	Translations      *prometheus.CounterVec
	GuardRejections   prometheus.Counter
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcat_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookcat_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookcat_items_scraped_total",
			Help: "Total number of records appended to a collection.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcat_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	categoryLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcat_category_lookups_total",
			Help: "Detail-page category lookups by outcome.",
		},
		[]string{"outcome"},
	)
	validations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcat_document_validations_total",
			Help: "Document schema validations by outcome.",
		},
		[]string{"outcome"},
	)
	storeOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcat_store_operations_total",
			Help: "Document store operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	translations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcat_translations_total",
			Help: "Natural-language query translations by outcome.",
		},
		[]string{"outcome"},
	)
	guardRejections := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookcat_query_guard_rejections_total",
			Help: "Query texts rejected before execution.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, errorsTotal,
		categoryLookups, validations, storeOps, translations, guardRejections)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		ErrorsTotal:       errorsTotal,
		CategoryLookups:   categoryLookups,
		Validations:       validations,
		StoreOps:          storeOps,
		Translations:      translations,
		GuardRejections:   guardRejections,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCategoryLookup records a category lookup outcome (resolved, unresolved).
func (m *Metrics) IncCategoryLookup(outcome string) {
	if m == nil {
		return
	}
	m.CategoryLookups.WithLabelValues(outcome).Inc()
}

// IncValidation records a document validation outcome (valid, invalid, error).
func (m *Metrics) IncValidation(outcome string) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(outcome).Inc()
}

// IncStoreOp records a store operation outcome.
func (m *Metrics) IncStoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(op, outcome(err)).Inc()
}

// IncTranslation records a translation outcome (ok, cache_hit, missing_credential, error, empty).
func (m *Metrics) IncTranslation(outcome string) {
	if m == nil {
		return
	}
	m.Translations.WithLabelValues(outcome).Inc()
}

// IncGuardRejection increments the rejected query counter.
func (m *Metrics) IncGuardRejection() {
	if m == nil {
		return
	}
	m.GuardRejections.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
