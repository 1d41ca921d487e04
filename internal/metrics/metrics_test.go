package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Transition("ACCEPTED", "decision")
	r.Transition("REJECTED", "cascade")
	r.Transition("REJECTED", "cascade")
	r.Conflict("capacity exhausted")
	r.NotifyFailed()
	r.LockWait(3 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("ACCEPTED", "decision")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("REJECTED", "cascade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.conflicts.WithLabelValues("capacity exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifyFailed))
	assert.Equal(t, 1, testutil.CollectAndCount(r.lockWait))
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := NewRegistry()
	NewRecorder(reg).Transition("ACCEPTED", "decision")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `admission_transitions_total{cause="decision",status="ACCEPTED"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
