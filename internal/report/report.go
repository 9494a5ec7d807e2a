// Package report summarizes realized trade PnL from the journal.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
)

// ErrNoTrades is returned when there is nothing to analyze.
var ErrNoTrades = errors.New("no trades to analyze")

// Report is the PnL summary of a set of closed trades.
type Report struct {
	StartDate            time.Time       `json:"start_date"`
	EndDate              time.Time       `json:"end_date"`
	TotalTrades          int             `json:"total_trades"`
	WinningTrades        int             `json:"winning_trades"`
	LosingTrades         int             `json:"losing_trades"`
	WinRate              float64         `json:"win_rate"`
	TotalPnL             decimal.Decimal `json:"total_pnl"`
	AverageProfit        decimal.Decimal `json:"average_profit"`
	AverageLoss          decimal.Decimal `json:"average_loss"`
	RiskRewardRatio      float64         `json:"risk_reward_ratio"`
	ProfitFactor         float64         `json:"profit_factor"`
	MaxDrawdown          decimal.Decimal `json:"max_drawdown"`
	RecoveryFactor       float64         `json:"recovery_factor"`
	SharpeRatio          float64         `json:"sharpe_ratio"`
	SortinoRatio         float64         `json:"sortino_ratio"`
	MaxConsecutiveWins   int             `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"`
	Mints                int             `json:"mints"`
}

// Querier is the subset of pgxpool.Pool the service reads with.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Service loads trade PnL rows.
type Service struct {
	db Querier
}

// NewService creates a new report service.
func NewService(db Querier) *Service {
	return &Service{db: db}
}

// FetchTrades returns the trades_pnl rows created in [from, to), oldest
// first. An empty userID selects every user.
func (s *Service) FetchTrades(ctx context.Context, userID string, from, to time.Time) ([]dbwriter.TradePnL, error) {
	const query = `
		SELECT user_id, mint, tx_ref, pnl, cumulative_pnl, created_at
		FROM trades_pnl
		WHERE created_at >= $1 AND created_at < $2 AND ($3 = '' OR user_id = $3)
		ORDER BY created_at ASC, id ASC`
	rows, err := s.db.Query(ctx, query, from, to, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []dbwriter.TradePnL
	for rows.Next() {
		var t dbwriter.TradePnL
		if err := rows.Scan(&t.UserID, &t.Mint, &t.TxRef, &t.Pnl, &t.CumulativePnl, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}

// Analyze summarizes trades in the order given.
func Analyze(trades []dbwriter.TradePnL) (Report, error) {
	if len(trades) == 0 {
		return Report{}, ErrNoTrades
	}

	var rep Report
	var totalProfit, totalLoss decimal.Decimal
	var consecutiveWins, consecutiveLosses int
	mints := make(map[string]struct{})
	returns := make([]float64, 0, len(trades))

	equity, peak := decimal.Zero, decimal.Zero
	for _, t := range trades {
		mints[t.Mint] = struct{}{}
		rep.TotalPnL = rep.TotalPnL.Add(t.Pnl)
		returns = append(returns, t.Pnl.InexactFloat64())

		switch {
		case t.Pnl.IsPositive():
			rep.WinningTrades++
			totalProfit = totalProfit.Add(t.Pnl)
			consecutiveWins++
			consecutiveLosses = 0
			rep.MaxConsecutiveWins = max(rep.MaxConsecutiveWins, consecutiveWins)
		case t.Pnl.IsNegative():
			rep.LosingTrades++
			totalLoss = totalLoss.Add(t.Pnl)
			consecutiveLosses++
			consecutiveWins = 0
			rep.MaxConsecutiveLosses = max(rep.MaxConsecutiveLosses, consecutiveLosses)
		}

		equity = equity.Add(t.Pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(rep.MaxDrawdown) {
			rep.MaxDrawdown = dd
		}
	}

	rep.StartDate = trades[0].CreatedAt
	rep.EndDate = trades[len(trades)-1].CreatedAt
	rep.TotalTrades = len(trades)
	rep.Mints = len(mints)

	if decided := rep.WinningTrades + rep.LosingTrades; decided > 0 {
		rep.WinRate = float64(rep.WinningTrades) / float64(decided) * 100
	}
	if rep.WinningTrades > 0 {
		rep.AverageProfit = totalProfit.Div(decimal.NewFromInt(int64(rep.WinningTrades)))
	}
	if rep.LosingTrades > 0 {
		rep.AverageLoss = totalLoss.Div(decimal.NewFromInt(int64(rep.LosingTrades)))
	}
	if !rep.AverageLoss.IsZero() {
		rep.RiskRewardRatio = rep.AverageProfit.Div(rep.AverageLoss.Abs()).InexactFloat64()
	}
	if totalLoss.IsNegative() {
		rep.ProfitFactor = totalProfit.Div(totalLoss.Abs()).InexactFloat64()
	}
	if rep.MaxDrawdown.IsPositive() {
		rep.RecoveryFactor = rep.TotalPnL.Div(rep.MaxDrawdown).InexactFloat64()
	}
	rep.SharpeRatio = sharpeRatio(returns)
	rep.SortinoRatio = sortinoRatio(returns)
	return rep, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	m := mean(returns)
	variance := 0.0
	for _, r := range returns {
		variance += math.Pow(r-m, 2)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return m / std
}

// sortinoRatio uses a zero target return.
func sortinoRatio(returns []float64) float64 {
	downside, n := 0.0, 0
	for _, r := range returns {
		if r < 0 {
			downside += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return mean(returns) / math.Sqrt(downside/float64(n))
}
