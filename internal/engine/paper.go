package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/position"
	"github.com/your-org/ledger-sniper-bot/internal/venue"
	"github.com/your-org/ledger-sniper-bot/pkg/logger"
)

// PriceSource quotes the SOL price of one whole token.
type PriceSource interface {
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
}

// VenuePrices asks venues in order until one quotes a price.
type VenuePrices struct {
	Venues  []venue.Venue
	Timeout time.Duration
}

func (p VenuePrices) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 1200 * time.Millisecond
	}
	return firstPrice(ctx, p.Venues, timeout, mint)
}

// PaperExecutor fills every order immediately at the quoted price. Nothing
// is signed or sent.
type PaperExecutor struct {
	prices  PriceSource
	book    *position.Book
	journal dbwriter.Writer

	mu      sync.Mutex
	balance decimal.Decimal
}

// NewPaperExecutor starts with startingSOL of paper balance.
func NewPaperExecutor(prices PriceSource, startingSOL decimal.Decimal, journal dbwriter.Writer) *PaperExecutor {
	return &PaperExecutor{
		prices:  prices,
		book:    position.NewBook(),
		journal: journal,
		balance: startingSOL,
	}
}

// Book exposes the paper holdings.
func (p *PaperExecutor) Book() *position.Book { return p.book }

func (p *PaperExecutor) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	return p.prices.Price(ctx, mint)
}

func (p *PaperExecutor) Balance(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Buy converts lamports to tokens at the current price.
func (p *PaperExecutor) Buy(ctx context.Context, mint string, lamports uint64) (*Execution, error) {
	if lamports == 0 {
		return nil, fmt.Errorf("buy %s: zero amount", mint)
	}
	sol := venue.SOLFromLamports(lamports)

	p.mu.Lock()
	if p.balance.LessThan(sol) {
		have := p.balance
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: paper balance %s SOL, need %s", ErrInsufficientFunds, have, sol)
	}
	p.mu.Unlock()

	start := time.Now()
	price, err := p.prices.Price(ctx, mint)
	if err != nil {
		return nil, p.fail(start, venue.Buy, mint, lamports, fmt.Errorf("paper buy price: %w", err))
	}
	if !price.IsPositive() {
		return nil, p.fail(start, venue.Buy, mint, lamports, fmt.Errorf("paper buy %s: no price", mint))
	}
	raw := uint64(sol.Div(price).Shift(venue.DefaultDecimals).IntPart())
	if raw == 0 {
		return nil, p.fail(start, venue.Buy, mint, lamports, fmt.Errorf("paper buy %s: amount too small at price %s", mint, price))
	}

	p.mu.Lock()
	p.balance = p.balance.Sub(sol)
	p.mu.Unlock()
	p.book.Buy(mint, raw, price)

	exec := p.fill(start, venue.Buy, mint, lamports, price)
	logger.Infof("[Paper] Bought %d raw of %s for %s SOL at %s. %s", raw, mint, sol, price, p.book.Get(mint))
	return exec, nil
}

// Sell closes amount against the paper book. ALL resolves to the whole
// paper holding.
func (p *PaperExecutor) Sell(ctx context.Context, mint string, amount Amount) (*Execution, error) {
	raw := amount.Raw
	if amount.All {
		raw = p.book.Size(mint)
	}
	if raw == 0 {
		return nil, fmt.Errorf("paper sell %s %s: %w", mint, amount, ErrZeroBalance)
	}

	start := time.Now()
	price, err := p.prices.Price(ctx, mint)
	if err != nil {
		return nil, p.fail(start, venue.Sell, mint, raw, fmt.Errorf("paper sell price: %w", err))
	}
	closed, realized := p.book.Sell(mint, raw, price, venue.DefaultDecimals)
	if closed == 0 {
		return nil, fmt.Errorf("paper sell %s: %w", mint, ErrZeroBalance)
	}
	proceeds := decimal.NewFromUint64(closed).Shift(-venue.DefaultDecimals).Mul(price)

	p.mu.Lock()
	p.balance = p.balance.Add(proceeds)
	p.mu.Unlock()

	exec := p.fill(start, venue.Sell, mint, closed, price)
	logger.Infof("[Paper] Sold %d raw of %s for %s SOL, realized %s.", closed, mint, proceeds.StringFixed(9), realized.StringFixed(9))
	return exec, nil
}

func (p *PaperExecutor) fill(start time.Time, side venue.Side, mint string, amount uint64, price decimal.Decimal) *Execution {
	exec := &Execution{
		AttemptID: uuid.NewString(),
		Venue:     "paper",
		TxRef:     "paper-" + uuid.NewString(),
		Side:      side,
		Mint:      mint,
		Amount:    amount,
		Price:     decimal.NewNullDecimal(price),
		Latency:   time.Since(start),
		DryRun:    true,
	}
	p.save(exec, dbwriter.StatusSuccess, "")
	return exec
}

func (p *PaperExecutor) fail(start time.Time, side venue.Side, mint string, amount uint64, err error) error {
	p.save(&Execution{
		AttemptID: uuid.NewString(),
		Venue:     "paper",
		Side:      side,
		Mint:      mint,
		Amount:    amount,
		Latency:   time.Since(start),
	}, dbwriter.StatusFail, err.Error())
	logger.Warnf("[Paper] %v", err)
	return err
}

func (p *PaperExecutor) save(e *Execution, status, errMsg string) {
	if p.journal == nil {
		return
	}
	p.journal.SaveExecution(dbwriter.Execution{
		Time:      time.Now().UTC(),
		AttemptID: e.AttemptID,
		Venue:     e.Venue,
		Side:      string(e.Side),
		Mint:      e.Mint,
		Amount:    decimal.NewFromUint64(e.Amount),
		Status:    status,
		LatencyMs: e.Latency.Milliseconds(),
		TxRef:     e.TxRef,
		Price:     e.Price,
		Error:     errMsg,
		DryRun:    true,
	})
}
