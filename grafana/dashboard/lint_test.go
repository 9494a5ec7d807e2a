package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/ledger-sniper-bot/internal/ledger"
	"github.com/your-org/ledger-sniper-bot/internal/metrics"
)

func TestDashboardSchema(t *testing.T) {
	valid, errs, err := ValidateDashboard(LedgerSniper)
	require.NoError(t, err)
	assert.True(t, valid, "dashboard schema is not valid: %v", errs)
}

func TestDashboardRejectsPanelWithoutQuery(t *testing.T) {
	valid, errs, err := ValidateDashboard([]byte(`{"title": "x", "uid": "x", "panels": [{"id": 1, "type": "stat", "title": "empty", "targets": []}]}`))
	require.NoError(t, err)
	assert.False(t, valid)
	assert.NotEmpty(t, errs)
}

// Every metric the dashboard queries must be registered by the bot.
func TestDashboardMetricsExist(t *testing.T) {
	m := metrics.New()
	m.ObserveIngest(true, 1, 1)
	m.ObserveFunding(ledger.FundingMetric{CleanFundingCandidate: true})
	m.ObserveDecision(true, 6)
	m.ObserveExecution("jupiter", "buy", "success", time.Millisecond)
	m.ObserveTransition("FLAT")
	m.SetActiveTraders(1)
	m.IncFeedReconnect()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	registered := make(map[string]bool, len(families))
	for _, f := range families {
		registered[f.GetName()] = true
	}

	names, err := MetricNames(LedgerSniper)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	for _, n := range names {
		assert.True(t, registered[n], "dashboard queries unknown metric %s", n)
	}
}
