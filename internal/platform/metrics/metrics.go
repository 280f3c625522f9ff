package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	linkOps         *prometheus.CounterVec
	linksRemoved    prometheus.Counter
	searchLatency   *prometheus.HistogramVec
	staleSearches   prometheus.Counter
	confirmOutcomes *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		linkOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "familylink_link_create_total",
			Help: "Link creation attempts by outcome",
		}, []string{"outcome"}),
		linksRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "familylink_links_removed_total",
			Help: "Links removed explicitly or by purge",
		}),
		searchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "familylink_directory_search_seconds",
			Help:    "Patient directory search latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"result"}),
		staleSearches: f.NewCounter(prometheus.CounterOpts{
			Name: "familylink_stale_search_responses_total",
			Help: "Search responses discarded because a newer query was issued",
		}),
		confirmOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "familylink_confirm_total",
			Help: "Link session confirmations by outcome",
		}, []string{"outcome"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "familylink_link_sessions_active",
			Help: "Open link sessions",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "familylink_http_requests_total",
			Help: "HTTP requests by method and status",
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) LinkCreated(outcome string) {
	if m == nil {
		return
	}
	m.linkOps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LinksRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.linksRemoved.Add(float64(n))
}

func (m *Metrics) ObserveSearch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.searchLatency.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) StaleSearch() {
	if m == nil {
		return
	}
	m.staleSearches.Inc()
}

func (m *Metrics) ConfirmOutcome(outcome string) {
	if m == nil {
		return
	}
	m.confirmOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Middleware counts requests by method and final status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if m == nil {
				return err
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.httpRequests.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
			return err
		}
	}
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
