// Package venue implements the swap venues the orchestrator races.
package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/your-org/ledger-sniper-bot/internal/chain"
)

// SOLMint is the wrapped SOL mint every swap is quoted against.
const SOLMint = "So11111111111111111111111111111111111111112"

// DefaultDecimals is assumed when a token's decimals are unknown.
const DefaultDecimals = 9

var (
	// ErrPrecheck marks a venue that failed its pre-flight probe.
	ErrPrecheck = errors.New("precheck failed")
	// ErrNoRoute is returned when no quote could be obtained.
	ErrNoRoute = errors.New("no route")
)

// Side is the trade direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Order describes one swap. Amount is in lamports for buys and in raw token
// units for sells.
type Order struct {
	Mint   string
	Side   Side
	Amount uint64
	// SlippageBps is tried in order until a quote succeeds.
	SlippageBps []int
	// Decimals of the token, DefaultDecimals when zero.
	Decimals int
}

func (o Order) decimals() int32 {
	if o.Decimals <= 0 {
		return DefaultDecimals
	}
	return int32(o.Decimals)
}

// pair returns the input and output mint.
func (o Order) pair() (string, string) {
	if o.Side == Sell {
		return o.Mint, SOLMint
	}
	return SOLMint, o.Mint
}

// Result is a completed swap.
type Result struct {
	Venue       string
	TxRef       string
	Price       decimal.NullDecimal
	InAmount    uint64
	OutAmount   uint64
	SlippageBps int
}

// Venue executes swaps.
type Venue interface {
	Name() string
	// Precheck probes the venue for this order without sending anything.
	Precheck(ctx context.Context, o Order) error
	Execute(ctx context.Context, o Order, signer *chain.Signer) (Result, error)
	// Price returns the SOL price of one whole token.
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
}

// EstimatePrice derives the SOL per token price from quote amounts. Buys
// spend SOL for tokens; sells spend tokens for SOL.
func EstimatePrice(o Order, in, out uint64) decimal.NullDecimal {
	var lamports, raw uint64
	if o.Side == Sell {
		lamports, raw = out, in
	} else {
		lamports, raw = in, out
	}
	if lamports == 0 || raw == 0 {
		return decimal.NullDecimal{}
	}
	sol := decimal.NewFromUint64(lamports).Shift(-9)
	tokens := decimal.NewFromUint64(raw).Shift(-o.decimals())
	return decimal.NewNullDecimal(sol.Div(tokens))
}

// LamportsFromSOL converts a SOL amount to lamports, truncating.
func LamportsFromSOL(sol decimal.Decimal) uint64 {
	if !sol.IsPositive() {
		return 0
	}
	return uint64(sol.Shift(9).IntPart())
}

// SOLFromLamports converts lamports to SOL.
func SOLFromLamports(l uint64) decimal.Decimal {
	return decimal.NewFromUint64(l).Shift(-9)
}
