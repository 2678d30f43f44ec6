package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New("test", false)

	m.ObserveRequest("/embed", http.StatusOK, time.Millisecond)
	m.ObserveRequest("/embed", http.StatusBadRequest, time.Millisecond)
	m.ObserveRequest("/embed", http.StatusBadRequest, time.Millisecond)
	m.ObserveRequest("/embed", http.StatusServiceUnavailable, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/embed", "2xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/embed", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/embed", "5xx")))
}

func TestObserveLoadAndEncode(t *testing.T) {
	m := New("test", false)

	m.ObserveLoad("bge", time.Second, errors.New("boom"))
	m.ObserveLoad("bge", time.Second, nil)
	m.ObserveEncode("bge", 3, time.Millisecond, nil)
	m.ObserveEncode("bge", 5, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("bge", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("bge", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.encodedTexts.WithLabelValues("bge")))
}

func TestHandlerExposesServiceLabel(t *testing.T) {
	m := New("vectorize-test", true)
	m.ObserveRequest("/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vectorize_requests_total{endpoint="/health",service="vectorize-test",status="2xx"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
