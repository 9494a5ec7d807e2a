package report

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
)

func trade(mint, pnl string, at time.Time) dbwriter.TradePnL {
	return dbwriter.TradePnL{UserID: "u1", Mint: mint, Pnl: decimal.RequireFromString(pnl), CreatedAt: at}
}

func TestAnalyze(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("no trades", func(t *testing.T) {
		_, err := Analyze(nil)
		assert.ErrorIs(t, err, ErrNoTrades)
	})

	t.Run("wins and losses", func(t *testing.T) {
		rep, err := Analyze([]dbwriter.TradePnL{
			trade("A", "0.04", base),
			trade("A", "0.02", base.Add(time.Minute)),
			trade("B", "-0.03", base.Add(2*time.Minute)),
			trade("B", "-0.01", base.Add(3*time.Minute)),
			trade("C", "0.05", base.Add(4*time.Minute)),
		})
		require.NoError(t, err)
		assert.Equal(t, 5, rep.TotalTrades)
		assert.Equal(t, 3, rep.WinningTrades)
		assert.Equal(t, 2, rep.LosingTrades)
		assert.InDelta(t, 60.0, rep.WinRate, 1e-9)
		assert.Equal(t, "0.07", rep.TotalPnL.String())
		assert.Equal(t, "-0.02", rep.AverageLoss.String())
		assert.Equal(t, "0.04", rep.MaxDrawdown.String())
		assert.InDelta(t, 11.0/4.0, rep.ProfitFactor, 1e-9)
		assert.InDelta(t, 0.07/0.04, rep.RecoveryFactor, 1e-9)
		assert.Equal(t, 2, rep.MaxConsecutiveWins)
		assert.Equal(t, 2, rep.MaxConsecutiveLosses)
		assert.Equal(t, 3, rep.Mints)
		assert.Equal(t, base, rep.StartDate)
		assert.Equal(t, base.Add(4*time.Minute), rep.EndDate)
		assert.Positive(t, rep.SharpeRatio)
		assert.Positive(t, rep.SortinoRatio)
	})

	t.Run("break-even trade counts as neither", func(t *testing.T) {
		rep, err := Analyze([]dbwriter.TradePnL{trade("A", "0", base)})
		require.NoError(t, err)
		assert.Equal(t, 1, rep.TotalTrades)
		assert.Zero(t, rep.WinningTrades)
		assert.Zero(t, rep.LosingTrades)
		assert.Zero(t, rep.WinRate)
		assert.Zero(t, rep.ProfitFactor)
	})
}

func TestService_FetchTrades(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	rows := pgxmock.NewRows([]string{"user_id", "mint", "tx_ref", "pnl", "cumulative_pnl", "created_at"}).
		AddRow("u1", "A", "sig1", decimal.RequireFromString("0.04"), decimal.RequireFromString("0.04"), from.Add(time.Hour)).
		AddRow("u1", "B", "sig2", decimal.RequireFromString("-0.01"), decimal.RequireFromString("0.03"), from.Add(2*time.Hour))
	mock.ExpectQuery("SELECT user_id, mint, tx_ref, pnl, cumulative_pnl, created_at").
		WithArgs(from, to, "u1").
		WillReturnRows(rows)

	trades, err := NewService(mock).FetchTrades(context.Background(), "u1", from, to)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "sig2", trades[1].TxRef)
	assert.Equal(t, "0.03", trades[1].CumulativePnl.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
