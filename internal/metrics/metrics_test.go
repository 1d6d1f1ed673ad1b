package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                                   "/",
		"/":                                  "/",
		"/api/v1/approvals":                  "/api/v1/approvals",
		"/api/v1/approvals/APP0042":          "/api/v1/approvals/:id",
		"/api/v1/approvals/APP0042/decision": "/api/v1/approvals/:id/decision",
		"/api/v1/accounts/ACC12345":          "/api/v1/accounts/:id",
		"/api/v1/accounts/APPLE":             "/api/v1/accounts/APPLE",
	}

	for in, want := range tests {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/notifications/:id", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/NOT0001", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/notifications/:id", "418")))
	assert.Zero(t, testutil.ToFloat64(httpInFlight))
}

func TestHandlerServesRegistry(t *testing.T) {
	GateOutcomes.WithLabelValues("auto_commit").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_approvals_transactions_gate_outcomes_total")
}
