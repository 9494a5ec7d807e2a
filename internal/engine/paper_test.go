package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/venue"
)

type staticPrices map[string]decimal.Decimal

func (s staticPrices) Price(_ context.Context, mint string) (decimal.Decimal, error) {
	p, ok := s[mint]
	if !ok {
		return decimal.Zero, errors.New("unknown mint")
	}
	return p, nil
}

func TestPaperExecutor_BuyThenSellAll(t *testing.T) {
	prices := staticPrices{"M": decimal.RequireFromString("0.001")}
	journal := dbwriter.NewInMemWriter()
	p := NewPaperExecutor(prices, decimal.NewFromInt(1), journal)
	ctx := context.Background()

	buy, err := p.Buy(ctx, "M", 100_000_000) // 0.1 SOL
	require.NoError(t, err)
	assert.True(t, buy.DryRun)
	assert.True(t, strings.HasPrefix(buy.TxRef, "paper-"))
	assert.Equal(t, uint64(100_000_000_000), p.Book().Size("M"), "0.1 SOL buys 100 whole tokens")

	bal, _ := p.Balance(ctx)
	assert.True(t, decimal.RequireFromString("0.9").Equal(bal))

	prices["M"] = decimal.RequireFromString("0.002")
	sell, err := p.Sell(ctx, "M", All)
	require.NoError(t, err)
	assert.Equal(t, venue.Sell, sell.Side)
	assert.Equal(t, uint64(100_000_000_000), sell.Amount)
	assert.Zero(t, p.Book().Size("M"))

	bal, _ = p.Balance(ctx)
	assert.True(t, decimal.RequireFromString("1.1").Equal(bal), bal.String())

	execs := journal.ExecutionsSnapshot()
	require.Len(t, execs, 2)
	for _, e := range execs {
		assert.True(t, e.DryRun)
		assert.Equal(t, dbwriter.StatusSuccess, e.Status)
	}
}

func TestPaperExecutor_SellAllWithoutHoldings(t *testing.T) {
	p := NewPaperExecutor(staticPrices{}, decimal.NewFromInt(1), nil)
	_, err := p.Sell(context.Background(), "M", All)
	assert.ErrorIs(t, err, ErrZeroBalance)
}

func TestPaperExecutor_BuyChecksBalance(t *testing.T) {
	p := NewPaperExecutor(staticPrices{"M": decimal.NewFromInt(1)}, decimal.RequireFromString("0.01"), nil)
	_, err := p.Buy(context.Background(), "M", 100_000_000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPaperExecutor_PriceErrorIsJournaled(t *testing.T) {
	journal := dbwriter.NewInMemWriter()
	p := NewPaperExecutor(staticPrices{}, decimal.NewFromInt(1), journal)
	_, err := p.Buy(context.Background(), "unknown", 1000)
	require.Error(t, err)
	execs := journal.ExecutionsSnapshot()
	require.Len(t, execs, 1)
	assert.Equal(t, dbwriter.StatusFail, execs[0].Status)
	assert.Contains(t, execs[0].Error, "unknown mint")
}
