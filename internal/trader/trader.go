package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/alert"
	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/engine"
	"github.com/your-org/ledger-sniper-bot/internal/store"
	"github.com/your-org/ledger-sniper-bot/internal/venue"
)

const defaultPollInterval = 400 * time.Millisecond

// Observer receives trade loop metrics.
type Observer interface {
	ObserveTransition(to string)
	SetActiveTraders(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveTransition(string) {}
func (nopObserver) SetActiveTraders(int)     {}

// Deps are the collaborators shared by every loop.
type Deps struct {
	Executor engine.Executor
	// Prices quotes the loop; the executor's own quote is used when nil.
	Prices     engine.PriceSource
	Indicators Confirmer
	Store      store.Store
	Journal    dbwriter.Writer
	Notifier   alert.Notifier
	Observer   Observer
	Logger     *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Prices == nil {
		d.Prices = d.Executor
	}
	if d.Notifier == nil {
		d.Notifier = alert.NewNoOpNotifier()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// Trader is the loop for one (user, mint) pair. Step is not safe for
// concurrent use; Run owns the trader.
type Trader struct {
	cfg   config.TraderConfig
	guard Guard
	deps  Deps
	log   *zap.Logger
	now   func() time.Time

	state       store.TraderState
	lastWarning string
}

func newTrader(cfg config.TraderConfig, deps Deps, saved store.TraderState) *Trader {
	deps = deps.withDefaults()
	saved.State = string(resumeState(saved.State, saved.InPosition))
	return &Trader{
		cfg:   cfg,
		guard: Guard{Cooldown: cfg.Cooldown(), MaxTrades: cfg.MaxTrades},
		deps:  deps,
		log:   deps.Logger.With(zap.String("user", saved.UserID), zap.String("mint", saved.Mint)),
		now:   time.Now,
		state: saved,
	}
}

// Run polls until ctx is done. An iteration that started finishes even
// if ctx is cancelled meanwhile, so orders are never abandoned mid-flight.
func (t *Trader) Run(ctx context.Context) error {
	interval := t.cfg.PollInterval()
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.log.Info("Trade loop started", zap.String("state", t.state.State), zap.Duration("interval", interval))
	for {
		if err := t.Step(context.WithoutCancel(ctx)); err != nil {
			t.log.Warn("Trade loop iteration failed", zap.Error(err))
			t.warn("loop error: " + err.Error())
		}
		select {
		case <-ctx.Done():
			t.log.Info("Trade loop stopped", zap.String("state", t.state.State))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step runs one iteration of the loop.
func (t *Trader) Step(ctx context.Context) error {
	if State(t.state.State) == CoolingDown && !t.coolingDown() {
		t.transition(ctx, Flat, decimal.NullDecimal{}, "cooldown elapsed")
	}

	price, err := t.deps.Prices.Price(ctx, t.state.Mint)
	if err != nil {
		return fmt.Errorf("price %s: %w", t.state.Mint, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price %s: non-positive quote %s", t.state.Mint, price)
	}

	switch State(t.state.State) {
	case InPosition:
		return t.maybeExit(ctx, price)
	case Flat:
		hits := t.deps.Indicators.Confirmations(ctx, t.cfg.Timeframes)
		if hits >= t.requiredConfirmations() {
			return t.enter(ctx, price, fmt.Sprintf("%d/%d timeframes confirmed", hits, len(t.cfg.Timeframes)))
		}
		if t.rebuyDue(price) {
			return t.enter(ctx, price, fmt.Sprintf("rebuy: price %s fell %.2f%% below last sell %s", price, t.cfg.RebuyDropPercent, t.state.LastSellPrice.Decimal))
		}
	}
	return nil
}

func (t *Trader) requiredConfirmations() int {
	if t.cfg.RequiredConfirmations > 0 {
		return t.cfg.RequiredConfirmations
	}
	return 3
}

func (t *Trader) coolingDown() bool {
	return errors.Is(t.guard.Allow(0, t.state.LastTradeAt, t.now()), ErrCooldown)
}

func (t *Trader) rebuyDue(price decimal.Decimal) bool {
	last := t.state.LastSellPrice
	if !last.Valid || !last.Decimal.IsPositive() {
		return false
	}
	limit := last.Decimal.Mul(decimal.NewFromInt(1).Sub(percent(t.cfg.RebuyDropPercent)))
	return price.LessThanOrEqual(limit)
}

func (t *Trader) enter(ctx context.Context, price decimal.Decimal, reason string) error {
	if err := t.guard.Allow(t.state.TradeCount, t.state.LastTradeAt, t.now()); err != nil {
		if errors.Is(err, ErrCooldown) {
			t.transition(ctx, CoolingDown, decimal.NewNullDecimal(price), reason+": "+err.Error())
			return nil
		}
		t.warn("entry skipped: " + err.Error())
		return nil
	}
	lamports, err := t.size(ctx)
	if err != nil {
		t.warn("entry skipped: " + err.Error())
		return nil
	}

	t.transition(ctx, Entering, decimal.NewNullDecimal(price), reason)
	current, err := t.deps.Prices.Price(ctx, t.state.Mint)
	if err != nil || !current.IsPositive() {
		current = price
	}
	if drift := current.Sub(price).Abs().Div(price); drift.GreaterThan(percent(t.cfg.MaxSlippagePercent)) {
		t.transition(ctx, Flat, decimal.NewNullDecimal(current), fmt.Sprintf("price moved %s%% before send", drift.Shift(2).StringFixed(2)))
		return nil
	}

	exec, err := t.deps.Executor.Buy(ctx, t.state.Mint, lamports)
	if err != nil {
		t.transition(ctx, Flat, decimal.NewNullDecimal(current), "buy failed: "+err.Error())
		return fmt.Errorf("buy %s: %w", t.state.Mint, err)
	}
	t.state.InPosition = true
	t.state.EntryPrice = decimal.NewNullDecimal(current)
	t.recordTrade()
	note := fmt.Sprintf("bought %s SOL via %s tx %s", venue.SOLFromLamports(lamports), exec.Venue, exec.TxRef)
	if exec.FeeSplitError != "" {
		note += " (fee split: " + exec.FeeSplitError + ")"
	}
	t.transition(ctx, InPosition, decimal.NewNullDecimal(current), note)
	return nil
}

// size is balance_percent of the SOL balance, raised to min_buy_sol when
// the balance covers it.
func (t *Trader) size(ctx context.Context) (uint64, error) {
	balance, err := t.deps.Executor.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	minBuy := decimal.NewFromFloat(t.cfg.MinBuySOL)
	amount := balance.Mul(percent(t.cfg.BalancePercent))
	if amount.LessThan(minBuy) {
		if balance.LessThan(minBuy) {
			return 0, fmt.Errorf("%w: balance %s SOL is below the minimum buy of %s SOL", engine.ErrInsufficientFunds, balance, minBuy)
		}
		amount = minBuy
	}
	lamports := venue.LamportsFromSOL(amount)
	if lamports == 0 {
		return 0, fmt.Errorf("%w: buy size rounds to zero", engine.ErrInsufficientFunds)
	}
	return lamports, nil
}

func (t *Trader) maybeExit(ctx context.Context, price decimal.Decimal) error {
	if !t.state.EntryPrice.Valid || !t.state.EntryPrice.Decimal.IsPositive() {
		t.warn("in position without an entry price")
		return nil
	}
	entry := t.state.EntryPrice.Decimal
	p := percent(t.cfg.ProfitPercent)
	one := decimal.NewFromInt(1)
	lower := entry.Mul(one.Add(p))
	upper := entry.Mul(one.Add(p.Mul(decimal.NewFromInt(2))))
	if price.LessThan(lower) || price.GreaterThan(upper) {
		return nil
	}
	if err := t.guard.AllowExit(t.state.LastTradeAt, t.now()); err != nil {
		t.warn("sell postponed: " + err.Error())
		return nil
	}

	gain := price.Div(entry).Sub(one).Shift(2).StringFixed(2)
	t.transition(ctx, Exiting, decimal.NewNullDecimal(price), "take profit at +"+gain+"%")
	exec, err := t.deps.Executor.Sell(ctx, t.state.Mint, engine.All)
	if err != nil {
		if errors.Is(err, engine.ErrZeroBalance) {
			t.state.InPosition = false
			t.state.EntryPrice = decimal.NullDecimal{}
			t.transition(ctx, Flat, decimal.NewNullDecimal(price), "nothing left to sell")
			return fmt.Errorf("sell %s: %w", t.state.Mint, err)
		}
		t.transition(ctx, InPosition, decimal.NewNullDecimal(price), "sell failed: "+err.Error())
		return fmt.Errorf("sell %s: %w", t.state.Mint, err)
	}

	t.state.InPosition = false
	t.state.LastSellPrice = decimal.NewNullDecimal(price)
	t.recordTrade()
	t.recordPnL(ctx, exec, entry, price)
	t.transition(ctx, Flat, decimal.NewNullDecimal(price), fmt.Sprintf("sold via %s tx %s", exec.Venue, exec.TxRef))
	return nil
}

func (t *Trader) recordTrade() {
	t.state.TradeCount++
	t.state.LastTradeAt = t.now().UTC()
}

func (t *Trader) recordPnL(ctx context.Context, exec *engine.Execution, entry, price decimal.Decimal) {
	fill := price
	if exec.Price.Valid && exec.Price.Decimal.IsPositive() {
		fill = exec.Price.Decimal
	}
	tokens := decimal.NewFromUint64(exec.Amount).Shift(-venue.DefaultDecimals)
	pnl := dbwriter.TradePnL{
		UserID:    t.state.UserID,
		Mint:      t.state.Mint,
		TxRef:     exec.TxRef,
		Pnl:       fill.Sub(entry).Mul(tokens),
		CreatedAt: t.now().UTC(),
	}
	if err := t.deps.Journal.SaveTradePnL(ctx, pnl); err != nil {
		t.log.Error("Failed to record trade PnL", zap.Error(err))
	}
}

// transition persists the new state, journals it and reports it.
func (t *Trader) transition(ctx context.Context, to State, price decimal.NullDecimal, note string) {
	from := State(t.state.State)
	t.state.State = string(to)
	if err := t.deps.Store.Upsert(ctx, t.state); err != nil {
		t.log.Error("Failed to persist trader state", zap.String("state", string(to)), zap.Error(err))
	}
	t.deps.Journal.SaveTransition(dbwriter.Transition{
		Time:   t.now().UTC(),
		UserID: t.state.UserID,
		Mint:   t.state.Mint,
		From:   string(from),
		To:     string(to),
		Price:  price,
		Note:   note,
	})
	t.deps.Observer.ObserveTransition(string(to))
	t.log.Info("Trader transition", zap.String("from", string(from)), zap.String("to", string(to)), zap.String("note", note))
	t.notify(fmt.Sprintf("%s %s: %s -> %s, %s", t.state.UserID, t.state.Mint, from, to, note))
	t.lastWarning = ""
}

// warn reports a soft failure once until the next transition.
func (t *Trader) warn(msg string) {
	if msg == t.lastWarning {
		return
	}
	t.lastWarning = msg
	t.log.Warn("Trader warning", zap.String("warning", msg))
	t.notify(fmt.Sprintf("WARN %s %s: %s", t.state.UserID, t.state.Mint, msg))
}

func (t *Trader) notify(msg string) {
	if err := t.deps.Notifier.Send(msg); err != nil {
		t.log.Debug("Failed to queue notification", zap.Error(err))
	}
}

func percent(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Shift(-2)
}
