package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveBackend("/get/records", time.Now(), nil)
	m.ObserveBackend("/get/records", time.Now(), errors.New("boom"))
	m.ObserveIdentify("radius", nil)
	m.IncClusterBuild()
	m.IncWMSRedraw("heatmap")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("/get/records", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("/get/records", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentifyQueries.WithLabelValues("radius", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterRebuilds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WMSRedraws.WithLabelValues("heatmap")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBackend("/filter", time.Now(), nil)
	m.ObserveIdentify("page", nil)
	m.IncClusterBuild()
	m.IncClusterQuery()
	m.IncWMSRedraw("raster")
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncClusterQuery()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "kickbox_cluster_queries_total 1"))
}
