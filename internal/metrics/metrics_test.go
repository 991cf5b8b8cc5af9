package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterServesExpositionOnAnyPath(t *testing.T) {
	router := Router()

	for _, path := range []string{"/metrics", "/", "/anything/else"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, "path %s", path)
		body := w.Body.String()
		for _, series := range []string{
			"aegis_ingress_tps",
			"aegis_ring_buffer_usage",
			"aegis_transactions_total",
			"aegis_risk_blocks_total",
			"aegis_drops_total",
		} {
			assert.Contains(t, body, series, "path %s", path)
		}
	}
}

func TestTPSWindowNeedsFullSecond(t *testing.T) {
	var w TPSWindow
	base := time.Now()

	w.Publish(base) // arms the window
	for i := 0; i < 500; i++ {
		w.Record()
	}

	// Half a second in: gauge must not be recomputed yet.
	w.Publish(base.Add(500 * time.Millisecond))
	if got := w.count.Load(); got != 500 {
		t.Errorf("window drained early: count = %d, want 500", got)
	}

	// A full second later the window drains.
	w.Publish(base.Add(1100 * time.Millisecond))
	if got := w.count.Load(); got != 0 {
		t.Errorf("window not drained: count = %d", got)
	}
	assert.InDelta(t, 500.0/1.1, gaugeValue(t), 1.0)
}

func gaugeValue(t *testing.T) float64 {
	t.Helper()
	router := Router()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "aegis_ingress_tps ") {
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, "aegis_ingress_tps "), 64)
			require.NoError(t, err)
			return v
		}
	}
	t.Fatal("aegis_ingress_tps not found in exposition")
	return 0
}
