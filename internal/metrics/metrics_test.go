package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "not_found", Outcome(domain.DocumentNotFound()))
	assert.Equal(t, "forbidden", Outcome(domain.ForbiddenResource()))
	assert.Equal(t, "error", Outcome(errors.New("disk full")))
}

func TestObserve(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.Observe(TransportHTTP, "GetOneNoteService", "ok", time.Millisecond)

	m := New()
	m.Observe(TransportHTTP, "GetOneNoteService", "ok", time.Millisecond)
	m.Observe(TransportHTTP, "GetOneNoteService", "ok", time.Millisecond)
	m.Observe(TransportSocket, "GetOneNoteService", "not_found", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(TransportHTTP, "GetOneNoteService", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(TransportSocket, "GetOneNoteService", "not_found")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dynamicapi_route_duration_seconds_count")
	assert.Contains(t, string(body), "go_goroutines")
}
