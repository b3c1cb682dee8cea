package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDecision(t *testing.T) {
	m := New()
	m.ObserveDecision("admin", OutcomeAllowed)
	m.ObserveDecision("admin", OutcomeAllowed)
	m.ObserveDecision("super_admin", OutcomeDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("admin", OutcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("super_admin", OutcomeDenied)))
}

func TestObserveMutation(t *testing.T) {
	m := New()
	m.ObserveMutation("create_role", nil)
	m.ObserveMutation("create_role", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("create_role", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("create_role", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("admin", OutcomeAllowed)
	m.ObserveMutation("revoke_permission", nil)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveDecision("permission", OutcomeDenied)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `smile_authz_decisions_total{gate="permission",outcome="denied"} 1`)
}
