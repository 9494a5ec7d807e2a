package sniper

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/engine"
	"github.com/your-org/ledger-sniper-bot/internal/gate"
	"github.com/your-org/ledger-sniper-bot/internal/ledger"
)

type fakeBuyer struct {
	mu    sync.Mutex
	err   error
	fill  decimal.NullDecimal
	quote decimal.Decimal
	buys  map[string]uint64
}

func (f *fakeBuyer) Buy(_ context.Context, mint string, lamports uint64) (*engine.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buys == nil {
		f.buys = make(map[string]uint64)
	}
	f.buys[mint] += lamports
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Execution{Venue: "jupiter", TxRef: "tx-" + mint, Mint: mint, Amount: lamports, Price: f.fill}, nil
}

func (f *fakeBuyer) Price(context.Context, string) (decimal.Decimal, error) {
	if f.quote.IsZero() {
		return decimal.Zero, errors.New("no route")
	}
	return f.quote, nil
}

type fakeStarter struct {
	mu      sync.Mutex
	started []string
	entries []decimal.Decimal
}

func (f *fakeStarter) StartInPosition(_ context.Context, userID, mint string, entry decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, userID+"/"+mint)
	f.entries = append(f.entries, entry)
	return nil
}

type countingRecorder struct {
	mu                sync.Mutex
	applied, dropped  int
	accepted, decided int
}

func (c *countingRecorder) ObserveIngest(accepted bool, _ uint64, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accepted {
		c.applied++
	} else {
		c.dropped++
	}
}

func (c *countingRecorder) ObserveDecision(accepted bool, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decided++
	if accepted {
		c.accepted++
	}
}

func initEvent(slot uint64, assets ...string) ledger.Event {
	return ledger.Event{Slot: slot, Kind: "initialize", FreshAssets: assets, Logs: []string{"createIdempotent"}}
}

func lowBar() gate.Weights {
	return gate.Weights{Mask: 1, Strong: 5, Aux: 3, Threshold: 1}
}

func TestSniper_ScoreIsPopcountWhenNotStrong(t *testing.T) {
	l := ledger.New(ledger.Options{RequiredBits: 99})
	s := New(context.Background(), l, gate.DefaultWeights(), config.SnipeConfig{}, dbwriter.NewInMemWriter(), zap.NewNop(), Options{})

	verdicts := s.Ingest(initEvent(100, "X"))

	require.Len(t, verdicts, 1)
	v := verdicts[0]
	assert.True(t, ledger.Mask(v.Mask).Has(ledger.AccountCreated))
	assert.Contains(t, v.Flags, "AccountCreated")
	assert.False(t, v.Strong)
	assert.False(t, v.Aux)
	assert.Equal(t, float64(ledger.Mask(v.Mask).Count()), v.Score)
}

func TestSniper_BuysAcceptedAssetOnce(t *testing.T) {
	buyer := &fakeBuyer{}
	journal := dbwriter.NewInMemWriter()
	rec := &countingRecorder{}
	cfg := config.SnipeConfig{Enabled: true, AmountSOL: 0.01}
	s := New(context.Background(), ledger.New(ledger.DefaultOptions()), lowBar(), cfg, journal, zap.NewNop(), Options{Buyer: buyer, Recorder: rec})

	s.Ingest(initEvent(100, "X", "X"))
	s.Ingest(initEvent(101, "X"))
	s.Wait()

	assert.Equal(t, map[string]uint64{"X": 10_000_000}, buyer.buys)
	assert.True(t, s.Attempted("X"))
	assert.Len(t, journal.Decisions, 2, "duplicate assets in one event are scored once")
	assert.Equal(t, 2, rec.applied)
	assert.Equal(t, 2, rec.accepted)
}

func TestSniper_DisabledOnlyScores(t *testing.T) {
	buyer := &fakeBuyer{}
	s := New(context.Background(), ledger.New(ledger.DefaultOptions()), lowBar(), config.SnipeConfig{AmountSOL: 0.01}, dbwriter.NewInMemWriter(), zap.NewNop(), Options{Buyer: buyer})

	verdicts := s.Ingest(initEvent(100, "X"))
	s.Wait()

	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Accepted)
	assert.Empty(t, buyer.buys)
	assert.False(t, s.Attempted("X"))
}

func TestSniper_RejectedAssetIsNotBought(t *testing.T) {
	buyer := &fakeBuyer{}
	w := gate.Weights{Mask: 1, Strong: 5, Aux: 3, Threshold: 100}
	s := New(context.Background(), ledger.New(ledger.DefaultOptions()), w, config.SnipeConfig{Enabled: true, AmountSOL: 0.01}, dbwriter.NewInMemWriter(), zap.NewNop(), Options{Buyer: buyer})

	verdicts := s.Ingest(initEvent(100, "X"))
	s.Wait()

	assert.False(t, verdicts[0].Accepted)
	assert.Empty(t, buyer.buys)
}

func TestSniper_AutoTradeAfterBuy(t *testing.T) {
	tests := []struct {
		name  string
		fill  decimal.NullDecimal
		quote string
		want  string
	}{
		{"fill price is the entry", decimal.NewNullDecimal(decimal.RequireFromString("0.0012")), "0.001", "0.0012"},
		{"quote when the fill has no price", decimal.NullDecimal{}, "0.001", "0.001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &fakeStarter{}
			buyer := &fakeBuyer{fill: tt.fill, quote: decimal.RequireFromString(tt.quote)}
			cfg := config.SnipeConfig{Enabled: true, AmountSOL: 0.01, UserID: "ops", AutoTrade: true}
			s := New(context.Background(), ledger.New(ledger.DefaultOptions()), lowBar(), cfg, dbwriter.NewInMemWriter(), zap.NewNop(), Options{Buyer: buyer, Traders: starter})

			s.Ingest(initEvent(100, "X"))
			s.Wait()

			assert.Equal(t, []string{"ops/X"}, starter.started)
			require.Len(t, starter.entries, 1)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(starter.entries[0]), starter.entries[0].String())
		})
	}
}

func TestSniper_NoEntryPriceStartsNoTrader(t *testing.T) {
	starter := &fakeStarter{}
	cfg := config.SnipeConfig{Enabled: true, AmountSOL: 0.01, UserID: "ops", AutoTrade: true}
	s := New(context.Background(), ledger.New(ledger.DefaultOptions()), lowBar(), cfg, dbwriter.NewInMemWriter(), zap.NewNop(), Options{Buyer: &fakeBuyer{}, Traders: starter})

	s.Ingest(initEvent(100, "X"))
	s.Wait()

	assert.Empty(t, starter.started)
}

func TestSniper_FailedBuyStartsNoTrader(t *testing.T) {
	starter := &fakeStarter{}
	cfg := config.SnipeConfig{Enabled: true, AmountSOL: 0.01, UserID: "ops", AutoTrade: true}
	buyer := &fakeBuyer{err: errors.New("all sources failed")}
	s := New(context.Background(), ledger.New(ledger.DefaultOptions()), lowBar(), cfg, dbwriter.NewInMemWriter(), zap.NewNop(), Options{Buyer: buyer, Traders: starter})

	s.Ingest(initEvent(100, "X"))
	s.Wait()

	assert.Empty(t, starter.started)
	assert.True(t, s.Attempted("X"), "a failed snipe is not retried")
}

func TestSniper_IngestJSON(t *testing.T) {
	rec := &countingRecorder{}
	s := New(context.Background(), ledger.New(ledger.DefaultOptions()), lowBar(), config.SnipeConfig{}, dbwriter.NewInMemWriter(), zap.NewNop(), Options{Recorder: rec})

	verdicts, err := s.IngestJSON([]byte(`{"slot": 100, "kind": "initialize", "freshAssets": ["X"], "logs": ["createIdempotent"]}`))
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, "X", verdicts[0].Mint)

	verdicts, err = s.IngestJSON([]byte(`{"kind": "initialize", "freshAssets": ["Y"]}`))
	require.NoError(t, err)
	assert.Empty(t, verdicts, "events without a slot are dropped")

	_, err = s.IngestJSON([]byte(`{broken`))
	assert.Error(t, err)

	assert.Equal(t, 1, rec.applied)
	assert.Equal(t, 2, rec.dropped)
}

func TestSniper_EvaluateHasNoSideEffects(t *testing.T) {
	journal := dbwriter.NewInMemWriter()
	s := New(context.Background(), ledger.New(ledger.DefaultOptions()), gate.DefaultWeights(), config.SnipeConfig{}, journal, zap.NewNop(), Options{})

	v := s.Evaluate("unknown", true)

	assert.Zero(t, v.Mask)
	assert.Equal(t, 3.0, v.Score, "aux alone scores its weight")
	assert.False(t, v.Accepted)
	assert.Empty(t, journal.Decisions)
}
