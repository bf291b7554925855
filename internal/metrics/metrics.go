package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bitetrack"

// Metrics owns a private registry so tests can build as many instances as they need.
// All recording methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SalesCreated       *prometheus.CounterVec
	SalesRejected      *prometheus.CounterVec
	SalesSettled       prometheus.Counter
	ImportRows         *prometheus.CounterVec
	ImportBatches      prometheus.Counter
	DropsCreated       *prometheus.CounterVec
	DropsUndone        prometheus.Counter
	DropUndoRejections *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	m.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})

	m.SalesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_created_total",
		Help:      "Sales committed, by source",
	}, []string{"source"})

	m.SalesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_rejected_total",
		Help:      "Sale attempts aborted, by reason",
	}, []string{"reason"})

	m.SalesSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_settled_total",
		Help:      "Sales that transitioned to settled through settlement",
	})

	m.ImportRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "import_rows_total",
		Help:      "CSV import rows, by outcome and skip reason",
	}, []string{"outcome", "reason"})

	m.ImportBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "import_batches_total",
		Help:      "CSV import batches processed",
	})

	m.DropsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inventory_drops_total",
		Help:      "Inventory drops recorded, by reason",
	}, []string{"reason"})

	m.DropsUndone = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inventory_drops_undone_total",
		Help:      "Inventory drops reversed within the undo window",
	})

	m.DropUndoRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inventory_drop_undo_rejected_total",
		Help:      "Undo attempts rejected, by reason",
	}, []string{"reason"})

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SalesCreated,
		m.SalesRejected,
		m.SalesSettled,
		m.ImportRows,
		m.ImportBatches,
		m.DropsCreated,
		m.DropsUndone,
		m.DropUndoRejections,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) SaleCreated(source string) {
	if m == nil {
		return
	}
	m.SalesCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) SaleRejected(reason string) {
	if m == nil {
		return
	}
	m.SalesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SaleSettled() {
	if m == nil {
		return
	}
	m.SalesSettled.Inc()
}

func (m *Metrics) ImportRow(outcome, reason string) {
	if m == nil {
		return
	}
	m.ImportRows.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) ImportBatch() {
	if m == nil {
		return
	}
	m.ImportBatches.Inc()
}

func (m *Metrics) DropCreated(reason string) {
	if m == nil {
		return
	}
	m.DropsCreated.WithLabelValues(reason).Inc()
}

func (m *Metrics) DropUndone() {
	if m == nil {
		return
	}
	m.DropsUndone.Inc()
}

func (m *Metrics) DropUndoRejected(reason string) {
	if m == nil {
		return
	}
	m.DropUndoRejections.WithLabelValues(reason).Inc()
}
