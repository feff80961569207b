package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ReconcileMutations("insert", 2)
	m.ReconcileMutations("insert", 1)
	m.ReconcileMutations("delete", 0)
	m.ReconcileSkipped(1)
	m.EnrichmentJob("success")
	m.BudgetAlerts(3)
	m.PushItem("upsert_expense", "success")
	m.SetActiveSubscriptions(4)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconcileMutations.WithLabelValues("insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enrichmentJobs.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.budgetAlerts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushItems.WithLabelValues("upsert_expense", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeSubscriptions))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ReconcileMutations("update", 1)
		m.ReconcileSkipped(1)
		m.EnrichmentJob("retry")
		m.BudgetAlerts(1)
		m.PushItem("delete_expense", "failed")
		m.SetActiveSubscriptions(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BudgetAlerts(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "snapspend_budget_alerts_total 1"))
}
