package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.LinkCreated("created")
	m.LinksRemoved(3)
	m.ObserveSearch(time.Millisecond, nil)
	m.StaleSearch()
	m.ConfirmOutcome("ok")
	m.SessionOpened()
	m.SessionClosed()
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.LinkCreated("created")
	m.LinkCreated("created")
	m.LinkCreated("duplicate")
	if got := testutil.ToFloat64(m.linkOps.WithLabelValues("created")); got != 2 {
		t.Errorf("created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.linkOps.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("duplicate = %v, want 1", got)
	}

	m.LinksRemoved(0)
	m.LinksRemoved(4)
	if got := testutil.ToFloat64(m.linksRemoved); got != 4 {
		t.Errorf("removed = %v, want 4", got)
	}

	m.StaleSearch()
	if got := testutil.ToFloat64(m.staleSearches); got != 1 {
		t.Errorf("stale = %v, want 1", got)
	}

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}

	m.ObserveSearch(10*time.Millisecond, errors.New("boom"))
	if got := testutil.CollectAndCount(m.searchLatency); got != 1 {
		t.Errorf("expected one search series, got %d", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ConfirmOutcome("created")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := Handler(reg)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `familylink_confirm_total{outcome="created"} 1`) {
		t.Errorf("metric missing from output:\n%s", rec.Body.String())
	}
}

func TestMiddleware_CountsStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := m.Middleware()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "dup")
	})
	_ = h(c)
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "409")); got != 1 {
		t.Errorf("POST 409 = %v, want 1", got)
	}
}
