package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/your-org/ledger-sniper-bot/internal/chain"
	"go.uber.org/zap"
)

// Options are shared by the swap venues.
type Options struct {
	BaseURL  string
	PriceURL string
	Timeout  time.Duration
	// SellRetrySlippageBps re-quotes a sell once at this slippage when its
	// simulation fails. Zero disables the retry.
	SellRetrySlippageBps int
	// ForceSend sends transactions whose simulation failed.
	ForceSend bool
	// MinOut is the smallest quote output a precheck accepts.
	MinOut uint64
}

// quote is a venue-neutral swap quote. raw is handed back to the venue when
// building the transaction.
type quote struct {
	InAmount    uint64
	OutAmount   uint64
	SlippageBps int
	raw         json.RawMessage
}

// swapAPI is what a venue must provide for the shared swap flow.
type swapAPI interface {
	quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*quote, error)
	transactions(ctx context.Context, q *quote, user solana.PublicKey, side Side) ([]string, error)
}

// swapper runs quote, build, simulate, send for any swapAPI.
type swapper struct {
	name   string
	api    swapAPI
	sub    *chain.Submitter
	opts   Options
	logger *zap.Logger
}

func (s *swapper) quoteLadder(ctx context.Context, o Order) (*quote, error) {
	in, out := o.pair()
	ladder := o.SlippageBps
	if len(ladder) == 0 {
		ladder = []int{50}
	}
	var errs []error
	for _, bps := range ladder {
		q, err := s.api.quote(ctx, in, out, o.Amount, bps)
		if err == nil {
			return q, nil
		}
		s.logger.Debug("quote failed", zap.String("venue", s.name), zap.Int("slippage_bps", bps), zap.Error(err))
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%s: %w: %w", s.name, ErrNoRoute, errors.Join(errs...))
}

// prepare builds and simulates every transaction of q. On a simulation
// failure the remaining transactions are still signed so a forced send can
// use them.
func (s *swapper) prepare(ctx context.Context, q *quote, signer *chain.Signer, side Side) ([]*solana.Transaction, error) {
	encoded, err := s.api.transactions(ctx, q, signer.PublicKey(), side)
	if err != nil {
		return nil, fmt.Errorf("%s: build swap: %w", s.name, err)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%s: build swap: empty transaction list", s.name)
	}
	txs := make([]*solana.Transaction, 0, len(encoded))
	for _, b64 := range encoded {
		tx, err := chain.DecodeTransaction(b64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		txs = append(txs, tx)
	}
	var simErr error
	for _, tx := range txs {
		if simErr != nil {
			if err := signer.Sign(tx); err != nil {
				return nil, err
			}
			continue
		}
		if err := s.sub.Simulate(ctx, tx, signer); err != nil {
			if !errors.Is(err, chain.ErrSimulation) {
				return nil, fmt.Errorf("%s: %w", s.name, err)
			}
			simErr = err
		}
	}
	if simErr != nil {
		return txs, fmt.Errorf("%s: %w", s.name, simErr)
	}
	return txs, nil
}

func (s *swapper) execute(ctx context.Context, o Order, signer *chain.Signer) (Result, error) {
	q, err := s.quoteLadder(ctx, o)
	if err != nil {
		return Result{}, err
	}
	txs, err := s.prepare(ctx, q, signer, o.Side)
	if err != nil && errors.Is(err, chain.ErrSimulation) && o.Side == Sell && s.opts.SellRetrySlippageBps > 0 {
		s.logger.Warn("sell simulation failed, retrying with wider slippage",
			zap.String("venue", s.name),
			zap.String("mint", o.Mint),
			zap.Int("slippage_bps", s.opts.SellRetrySlippageBps),
			zap.Error(err),
		)
		in, out := o.pair()
		if q2, qerr := s.api.quote(ctx, in, out, o.Amount, s.opts.SellRetrySlippageBps); qerr == nil {
			if txs2, perr := s.prepare(ctx, q2, signer, o.Side); perr == nil {
				q, txs, err = q2, txs2, nil
			}
		}
	}
	if err != nil {
		if !errors.Is(err, chain.ErrSimulation) || !s.opts.ForceSend || len(txs) == 0 {
			return Result{}, err
		}
		s.logger.Warn("forcing send after failed simulation", zap.String("venue", s.name), zap.Error(err))
	}

	var sig solana.Signature
	for _, tx := range txs {
		sig, err = s.sub.SendSimulated(ctx, tx, signer, chain.SubmitOptions{})
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return Result{
		Venue:       s.name,
		TxRef:       sig.String(),
		Price:       EstimatePrice(o, q.InAmount, q.OutAmount),
		InAmount:    q.InAmount,
		OutAmount:   q.OutAmount,
		SlippageBps: q.SlippageBps,
	}, nil
}
