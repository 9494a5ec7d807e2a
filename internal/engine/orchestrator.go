// Package engine turns buy and sell intents into swaps raced across venues.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/chain"
	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/venue"
)

// Amount is a sell size in raw token units, or the whole holding.
type Amount struct {
	Raw uint64
	All bool
}

// All sells every raw unit held across the signer's token accounts.
var All = Amount{All: true}

// Raw sells exactly n raw units.
func Raw(n uint64) Amount { return Amount{Raw: n} }

func (a Amount) String() string {
	if a.All {
		return "ALL"
	}
	return fmt.Sprintf("%d", a.Raw)
}

// Execution is the outcome of a buy or sell.
type Execution struct {
	AttemptID string
	Venue     string
	TxRef     string
	Side      venue.Side
	Mint      string
	// Amount is lamports for buys and raw token units for sells.
	Amount  uint64
	Price   decimal.NullDecimal
	Latency time.Duration
	DryRun  bool

	FeeSplitTx        string
	FeeSplitAmountSOL decimal.Decimal
	FeeSplitError     string
}

// Executor is what the trade loop and the sniper drive.
type Executor interface {
	Buy(ctx context.Context, mint string, lamports uint64) (*Execution, error)
	Sell(ctx context.Context, mint string, amount Amount) (*Execution, error)
	// Price is the SOL price of one whole token.
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
	// Balance is the spendable SOL balance.
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Recorder receives one observation per venue attempt.
type Recorder interface {
	ObserveExecution(venue, side, status string, latency time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExecution(string, string, string, time.Duration) {}

// Orchestrator races live venues.
type Orchestrator struct {
	venues    []venue.Venue
	submitter *chain.Submitter
	signer    *chain.Signer
	cfg       config.ExecutionConfig
	journal   dbwriter.Writer
	recorder  Recorder
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder reports attempts to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// NewOrchestrator builds an Orchestrator over venues in preference order.
func NewOrchestrator(venues []venue.Venue, submitter *chain.Submitter, signer *chain.Signer, cfg config.ExecutionConfig, journal dbwriter.Writer, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if len(venues) == 0 {
		return nil, ErrNoVenues
	}
	if signer == nil {
		return nil, fmt.Errorf("orchestrator: %w", chain.ErrInvalidSigner)
	}
	o := &Orchestrator{
		venues:    venues,
		submitter: submitter,
		signer:    signer,
		cfg:       cfg,
		journal:   journal,
		recorder:  nopRecorder{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Buy spends lamports of SOL on mint.
func (o *Orchestrator) Buy(ctx context.Context, mint string, lamports uint64) (*Execution, error) {
	if lamports == 0 {
		return nil, fmt.Errorf("buy %s: zero amount", mint)
	}
	split := o.feeSplitLamports(lamports)
	if err := o.checkFunds(ctx, lamports, split); err != nil {
		return nil, err
	}

	order := venue.Order{
		Mint:        mint,
		Side:        venue.Buy,
		Amount:      lamports,
		SlippageBps: []int{o.cfg.BuySlippageBps},
	}
	exec, err := o.execute(ctx, order)
	if err != nil {
		return nil, err
	}
	if split > 0 {
		o.splitFee(ctx, exec, split)
	}
	return exec, nil
}

// Sell sells amount of mint for SOL. An ALL sell with nothing held fails
// with ErrZeroBalance.
func (o *Orchestrator) Sell(ctx context.Context, mint string, amount Amount) (*Execution, error) {
	raw := amount.Raw
	if amount.All {
		held, err := o.holdings(ctx, mint)
		if err != nil {
			return nil, err
		}
		raw = held
	}
	if raw == 0 {
		return nil, fmt.Errorf("sell %s %s: %w", mint, amount, ErrZeroBalance)
	}

	order := venue.Order{
		Mint:        mint,
		Side:        venue.Sell,
		Amount:      raw,
		SlippageBps: o.cfg.SellSlippageBps,
	}
	return o.execute(ctx, order)
}

// Price asks each venue in turn and returns the first answer.
func (o *Orchestrator) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	return firstPrice(ctx, o.venues, o.cfg.PrecheckTimeout(), mint)
}

func firstPrice(ctx context.Context, venues []venue.Venue, timeout time.Duration, mint string) (decimal.Decimal, error) {
	var errs []error
	for _, v := range venues {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		p, err := v.Price(pctx, mint)
		cancel()
		if err == nil && p.IsPositive() {
			return p, nil
		}
		if err == nil {
			err = errors.New("non-positive price")
		}
		errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
	}
	return decimal.Zero, newAggregateError(errs)
}

// Balance returns the signer's SOL balance.
func (o *Orchestrator) Balance(ctx context.Context) (decimal.Decimal, error) {
	lamports, err := o.submitter.Node().SOLBalance(ctx, o.signer.PublicKey())
	if err != nil {
		return decimal.Zero, fmt.Errorf("get SOL balance: %w", err)
	}
	return venue.SOLFromLamports(lamports), nil
}

func (o *Orchestrator) holdings(ctx context.Context, mint string) (uint64, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	bal, err := o.submitter.Node().TokenBalance(ctx, o.signer.PublicKey(), mintKey)
	if err != nil {
		return 0, fmt.Errorf("resolve ALL for %s: %w", mint, err)
	}
	if bal == nil || bal.Sign() <= 0 {
		return 0, nil
	}
	if !bal.IsUint64() {
		return 0, fmt.Errorf("token balance of %s overflows uint64", mint)
	}
	return bal.Uint64(), nil
}

func (o *Orchestrator) feeSplitLamports(lamports uint64) uint64 {
	fs := o.cfg.FeeSplit
	if !fs.Enabled.Bool() || fs.ReserveWallet == "" || fs.Percent <= 0 {
		return 0
	}
	return venue.LamportsFromSOL(venue.SOLFromLamports(lamports).Mul(decimal.NewFromFloat(fs.Percent)).Div(decimal.NewFromInt(100)))
}

func (o *Orchestrator) reserveLamports() uint64 {
	return venue.LamportsFromSOL(decimal.NewFromFloat(o.cfg.FeeSplit.MinSOLReserve))
}

// checkFunds fails fast when the wallet cannot cover the swap, the fee
// split, the reserve and the rent of one new token account.
func (o *Orchestrator) checkFunds(ctx context.Context, lamports, split uint64) error {
	node := o.submitter.Node()
	bal, err := node.SOLBalance(ctx, o.signer.PublicKey())
	if err != nil {
		return fmt.Errorf("buy balance check: %w", err)
	}
	rent, err := node.RentExemption(ctx, chain.TokenAccountSize)
	if err != nil {
		o.logger.Warn("rent exemption lookup failed, assuming zero", zap.Error(err))
		rent = 0
	}
	need := lamports + split + o.reserveLamports() + rent
	if bal < need {
		return fmt.Errorf("%w: have %d lamports, need %d (amount %d, split %d, reserve %d, rent %d)",
			ErrInsufficientFunds, bal, need, lamports, split, o.reserveLamports(), rent)
	}
	return nil
}

func (o *Orchestrator) splitFee(ctx context.Context, exec *Execution, split uint64) {
	exec.FeeSplitAmountSOL = venue.SOLFromLamports(split)
	dest, err := solana.PublicKeyFromBase58(o.cfg.FeeSplit.ReserveWallet)
	if err != nil {
		exec.FeeSplitError = fmt.Sprintf("invalid reserve wallet: %v", err)
		o.logger.Warn("fee split skipped", zap.String("reason", exec.FeeSplitError))
		return
	}
	bal, err := o.submitter.Node().SOLBalance(ctx, o.signer.PublicKey())
	if err != nil {
		exec.FeeSplitError = fmt.Sprintf("balance lookup: %v", err)
		o.logger.Warn("fee split skipped", zap.String("reason", exec.FeeSplitError))
		return
	}
	if bal < split+o.reserveLamports() {
		exec.FeeSplitError = fmt.Sprintf("balance %d below split %d plus reserve %d", bal, split, o.reserveLamports())
		o.logger.Warn("fee split skipped", zap.String("reason", exec.FeeSplitError))
		return
	}
	sig, err := o.submitter.Transfer(ctx, o.signer, dest, split)
	if err != nil {
		exec.FeeSplitError = err.Error()
		o.logger.Warn("fee split transfer failed", zap.Error(err), zap.String("mint", exec.Mint))
		return
	}
	exec.FeeSplitTx = sig.String()
	o.logger.Info("fee split sent", zap.String("tx", exec.FeeSplitTx), zap.String("amountSOL", exec.FeeSplitAmountSOL.String()))
}

type attempt struct {
	res     venue.Result
	venue   string
	err     error
	latency time.Duration
}

// execute runs fast path, precheck, race and price fallback in that order.
func (o *Orchestrator) execute(ctx context.Context, order venue.Order) (*Execution, error) {
	attemptID := uuid.NewString()
	log := o.logger.With(zap.String("attempt", attemptID), zap.String("side", string(order.Side)), zap.String("mint", order.Mint))

	if o.cfg.FastPathEnabled.Bool() {
		if v := o.venueByName(o.cfg.FastPathVenue); v != nil {
			a := o.run(ctx, attemptID, v, order, o.cfg.FastPathTimeout())
			if a.err == nil {
				log.Info("fast path filled", zap.String("venue", a.venue), zap.Duration("latency", a.latency))
				return o.toExecution(attemptID, order, a), nil
			}
			log.Debug("fast path failed, racing all venues", zap.String("venue", a.venue), zap.Error(a.err))
		}
	}

	candidates, errs := o.precheck(ctx, attemptID, order, log)
	if len(candidates) > 0 {
		a, raceErrs := o.race(ctx, attemptID, candidates, order)
		if a != nil {
			log.Info("race won", zap.String("venue", a.venue), zap.Duration("latency", a.latency))
			return o.toExecution(attemptID, order, *a), nil
		}
		errs = append(errs, raceErrs...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a, fbErrs := o.priceFallback(ctx, attemptID, order, log)
	if a != nil {
		log.Info("price fallback filled", zap.String("venue", a.venue))
		return o.toExecution(attemptID, order, *a), nil
	}
	errs = append(errs, fbErrs...)
	aggErr := newAggregateError(errs)
	log.Error("execution failed on every venue", zap.Error(aggErr))
	return nil, aggErr
}

func (o *Orchestrator) venueByName(name string) venue.Venue {
	for _, v := range o.venues {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

// precheck probes every venue concurrently and keeps the ones that pass.
func (o *Orchestrator) precheck(ctx context.Context, attemptID string, order venue.Order, log *zap.Logger) ([]venue.Venue, []error) {
	if !o.cfg.PrecheckEnabled.Bool() {
		return o.venues, nil
	}
	type verdict struct {
		v   venue.Venue
		err error
	}
	out := make([]verdict, len(o.venues))
	var wg sync.WaitGroup
	for i, v := range o.venues {
		wg.Add(1)
		go func(i int, v venue.Venue) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, o.cfg.PrecheckTimeout())
			defer cancel()
			start := time.Now()
			err := v.Precheck(pctx, order)
			if err != nil {
				o.record(attemptID, v.Name(), order, dbwriter.StatusPrecheckFail, time.Since(start), venue.Result{}, err)
			}
			out[i] = verdict{v: v, err: err}
		}(i, v)
	}
	wg.Wait()

	var passed []venue.Venue
	var errs []error
	for _, r := range out {
		if r.err != nil {
			log.Warn("precheck failed", zap.String("venue", r.v.Name()), zap.Error(r.err))
			errs = append(errs, fmt.Errorf("%s precheck: %w", r.v.Name(), r.err))
			continue
		}
		passed = append(passed, r.v)
	}
	return passed, errs
}

// race runs every candidate with its own timeout and returns the first
// success. Losers keep running until their own timeout.
func (o *Orchestrator) race(ctx context.Context, attemptID string, candidates []venue.Venue, order venue.Order) (*attempt, []error) {
	results := make(chan attempt, len(candidates))
	for _, v := range candidates {
		go func(v venue.Venue) {
			results <- o.run(ctx, attemptID, v, order, o.cfg.SourceTimeout())
		}(v)
	}

	var errs []error
	for range candidates {
		select {
		case a := <-results:
			if a.err == nil {
				return &a, nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", a.venue, a.err))
		case <-ctx.Done():
			return nil, append(errs, ctx.Err())
		}
	}
	return nil, errs
}

// priceFallback executes on the venue quoting the best price.
func (o *Orchestrator) priceFallback(ctx context.Context, attemptID string, order venue.Order, log *zap.Logger) (*attempt, []error) {
	type quote struct {
		v     venue.Venue
		price decimal.Decimal
		err   error
	}
	quotes := make([]quote, len(o.venues))
	var wg sync.WaitGroup
	for i, v := range o.venues {
		wg.Add(1)
		go func(i int, v venue.Venue) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, o.cfg.PrecheckTimeout())
			defer cancel()
			p, err := v.Price(pctx, order.Mint)
			quotes[i] = quote{v: v, price: p, err: err}
		}(i, v)
	}
	wg.Wait()

	var best *quote
	var errs []error
	for i := range quotes {
		q := &quotes[i]
		if q.err != nil || !q.price.IsPositive() {
			if q.err == nil {
				q.err = errors.New("non-positive price")
			}
			errs = append(errs, fmt.Errorf("%s price: %w", q.v.Name(), q.err))
			continue
		}
		// buys want the cheapest token, sells the richest bid
		if best == nil ||
			(order.Side == venue.Buy && q.price.LessThan(best.price)) ||
			(order.Side == venue.Sell && q.price.GreaterThan(best.price)) {
			best = q
		}
	}
	if best == nil {
		return nil, errs
	}
	log.Info("falling back to best priced venue", zap.String("venue", best.v.Name()), zap.String("price", best.price.String()))
	a := o.run(ctx, attemptID, best.v, order, o.cfg.SourceTimeout())
	if a.err != nil {
		return nil, append(errs, fmt.Errorf("%s fallback: %w", a.venue, a.err))
	}
	return &a, nil
}

func (o *Orchestrator) run(ctx context.Context, attemptID string, v venue.Venue, order venue.Order, timeout time.Duration) attempt {
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	res, err := v.Execute(vctx, order, o.signer)
	latency := time.Since(start)
	status := dbwriter.StatusSuccess
	if err != nil {
		status = dbwriter.StatusFail
	}
	o.record(attemptID, v.Name(), order, status, latency, res, err)
	return attempt{res: res, venue: v.Name(), err: err, latency: latency}
}

func (o *Orchestrator) record(attemptID, venueName string, order venue.Order, status string, latency time.Duration, res venue.Result, err error) {
	o.recorder.ObserveExecution(venueName, string(order.Side), status, latency)
	if o.journal == nil {
		return
	}
	e := dbwriter.Execution{
		Time:      time.Now().UTC(),
		AttemptID: attemptID,
		Venue:     venueName,
		Side:      string(order.Side),
		Mint:      order.Mint,
		Amount:    decimal.NewFromUint64(order.Amount),
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		TxRef:     res.TxRef,
		Price:     res.Price,
	}
	if err != nil {
		e.Error = err.Error()
	}
	o.journal.SaveExecution(e)
}

func (o *Orchestrator) toExecution(attemptID string, order venue.Order, a attempt) *Execution {
	return &Execution{
		AttemptID: attemptID,
		Venue:     a.venue,
		TxRef:     a.res.TxRef,
		Side:      order.Side,
		Mint:      order.Mint,
		Amount:    order.Amount,
		Price:     a.res.Price,
		Latency:   a.latency,
	}
}
