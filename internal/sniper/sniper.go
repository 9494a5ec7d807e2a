// Package sniper feeds collector events through the ledger engine and the
// decision gate, and buys accepted assets once.
package sniper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/alert"
	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/engine"
	"github.com/your-org/ledger-sniper-bot/internal/gate"
	"github.com/your-org/ledger-sniper-bot/internal/ledger"
	"github.com/your-org/ledger-sniper-bot/internal/venue"
)

// Buyer places the snipe order. Price is quoted before the buy and stands in
// for the entry when the fill carries no price.
type Buyer interface {
	Buy(ctx context.Context, mint string, lamports uint64) (*engine.Execution, error)
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
}

// TraderStarter hands a sniped position to a trade loop.
type TraderStarter interface {
	StartInPosition(ctx context.Context, userID, mint string, entry decimal.Decimal) error
}

// Recorder receives ingest and gate metrics.
type Recorder interface {
	ObserveIngest(accepted bool, slot uint64, buckets int)
	ObserveDecision(accepted bool, score float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIngest(bool, uint64, int) {}
func (nopRecorder) ObserveDecision(bool, float64)   {}

// Verdict is the gate outcome for one asset.
type Verdict struct {
	Mint     string   `json:"mint"`
	Mask     int      `json:"mask"`
	Flags    []string `json:"flags"`
	MaskBits int      `json:"maskBits"`
	Strong   bool     `json:"strong"`
	Aux      bool     `json:"aux"`
	Score    float64  `json:"score"`
	Accepted bool     `json:"accepted"`
}

// Sniper wires ingest to execution.
type Sniper struct {
	ledger   *ledger.Engine
	weights  gate.Weights
	cfg      config.SnipeConfig
	buyer    Buyer
	traders  TraderStarter
	journal  dbwriter.Writer
	recorder Recorder
	notifier alert.Notifier
	logger   *zap.Logger

	ctx       context.Context
	mu        sync.Mutex
	attempted map[string]struct{}
	wg        sync.WaitGroup
}

// Options are the optional collaborators of a Sniper.
type Options struct {
	Buyer    Buyer
	Traders  TraderStarter
	Recorder Recorder
	Notifier alert.Notifier
}

// New creates a Sniper. Buys run on ctx, independent of the request that
// delivered the event. Without a Buyer, or with snipe disabled, the sniper
// only scores.
func New(ctx context.Context, l *ledger.Engine, w gate.Weights, cfg config.SnipeConfig, journal dbwriter.Writer, logger *zap.Logger, opts Options) *Sniper {
	s := &Sniper{
		ledger:    l,
		weights:   w,
		cfg:       cfg,
		buyer:     opts.Buyer,
		traders:   opts.Traders,
		journal:   journal,
		recorder:  opts.Recorder,
		notifier:  opts.Notifier,
		logger:    logger,
		ctx:       ctx,
		attempted: make(map[string]struct{}),
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.notifier == nil {
		s.notifier = alert.NewNoOpNotifier()
	}
	return s
}

// IngestJSON decodes and ingests a collector payload. Payloads without an
// ordering unit are dropped and return no verdicts.
func (s *Sniper) IngestJSON(data []byte) ([]Verdict, error) {
	ev, ok, err := ledger.DecodeEvent(data)
	if err != nil {
		s.recorder.ObserveIngest(false, 0, s.ledger.BucketCount())
		return nil, err
	}
	if !ok {
		s.recorder.ObserveIngest(false, 0, s.ledger.BucketCount())
		return nil, nil
	}
	return s.Ingest(ev), nil
}

// Ingest applies ev and scores every fresh asset it names.
func (s *Sniper) Ingest(ev ledger.Event) []Verdict {
	applied := s.ledger.Ingest(ev)
	s.recorder.ObserveIngest(applied, ev.Slot, s.ledger.BucketCount())
	if !applied {
		return nil
	}

	assets := ev.FreshAssets
	if limit := s.ledger.Options().MaxFreshAssets; len(assets) > limit {
		assets = assets[:limit]
	}
	seen := make(map[string]struct{}, len(assets))
	var verdicts []Verdict
	for _, mint := range assets {
		if mint == "" {
			continue
		}
		if _, dup := seen[mint]; dup {
			continue
		}
		seen[mint] = struct{}{}
		v := s.Evaluate(mint, ev.AltMintCreated)
		s.journal.SaveDecision(dbwriter.Decision{
			Time:     time.Now().UTC(),
			Mint:     mint,
			Mask:     v.Mask,
			MaskBits: v.MaskBits,
			Strong:   v.Strong,
			Aux:      v.Aux,
			Score:    v.Score,
			Accepted: v.Accepted,
		})
		s.recorder.ObserveDecision(v.Accepted, v.Score)
		if v.Accepted {
			s.logger.Info("Gate accepted asset", zap.String("mint", mint), zap.Float64("score", v.Score), zap.Strings("flags", v.Flags))
			s.snipe(mint)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

// Evaluate scores mint against the current window without side effects.
func (s *Sniper) Evaluate(mint string, aux bool) Verdict {
	sig := s.ledger.Signal(mint)
	d := s.weights.Decide(gate.InputFor(sig, aux))
	return Verdict{
		Mint:     mint,
		Mask:     sig.Mask.Int(),
		Flags:    sig.Mask.Names(),
		MaskBits: sig.Bits,
		Strong:   sig.Strong,
		Aux:      aux,
		Score:    d.Score,
		Accepted: d.Accepted,
	}
}

// snipe buys mint once per process.
func (s *Sniper) snipe(mint string) {
	if !bool(s.cfg.Enabled) || s.buyer == nil {
		return
	}
	s.mu.Lock()
	if _, done := s.attempted[mint]; done {
		s.mu.Unlock()
		return
	}
	s.attempted[mint] = struct{}{}
	s.mu.Unlock()

	lamports := venue.LamportsFromSOL(decimal.NewFromFloat(s.cfg.AmountSOL))
	if lamports == 0 {
		s.logger.Warn("Snipe amount is zero, skipping buy", zap.String("mint", mint))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		quote, qerr := s.buyer.Price(s.ctx, mint)
		if qerr != nil {
			s.logger.Debug("Pre-snipe quote failed", zap.String("mint", mint), zap.Error(qerr))
		}
		exec, err := s.buyer.Buy(s.ctx, mint, lamports)
		if err != nil {
			s.logger.Error("Snipe buy failed", zap.String("mint", mint), zap.Error(err))
			s.notify(fmt.Sprintf("snipe %s failed: %v", mint, err))
			return
		}
		s.logger.Info("Snipe buy filled", zap.String("mint", mint), zap.String("venue", exec.Venue), zap.String("tx", exec.TxRef))
		s.notify(fmt.Sprintf("sniped %s for %s SOL via %s tx %s", mint, venue.SOLFromLamports(lamports), exec.Venue, exec.TxRef))

		if bool(s.cfg.AutoTrade) && s.traders != nil && s.cfg.UserID != "" {
			entry := quote
			if exec.Price.Valid && exec.Price.Decimal.IsPositive() {
				entry = exec.Price.Decimal
			}
			if !entry.IsPositive() {
				s.logger.Warn("No entry price for sniped position, trade loop not started", zap.String("mint", mint))
				s.notify(fmt.Sprintf("sniped %s without an entry price, trade loop not started", mint))
				return
			}
			if err := s.traders.StartInPosition(s.ctx, s.cfg.UserID, mint, entry); err != nil {
				s.logger.Warn("Failed to start trade loop after snipe", zap.String("mint", mint), zap.Error(err))
			}
		}
	}()
}

// Attempted reports whether mint was already sniped.
func (s *Sniper) Attempted(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attempted[mint]
	return ok
}

// Wait blocks until in-flight buys finish.
func (s *Sniper) Wait() {
	s.wg.Wait()
}

func (s *Sniper) notify(msg string) {
	if err := s.notifier.Send(msg); err != nil {
		s.logger.Debug("Failed to queue notification", zap.Error(err))
	}
}
