package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// ErrSimulation is returned when the node rejects a simulated transaction.
var ErrSimulation = errors.New("simulation failed")

// SimulationError carries the node's logs along with ErrSimulation.
type SimulationError struct {
	Reason any
	Logs   []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed: %v", e.Reason)
}

func (e *SimulationError) Unwrap() error { return ErrSimulation }

// Submitter drives one transaction through sign, simulate, blockhash
// refresh, send and confirm.
type Submitter struct {
	node   Node
	logger *zap.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(node Node, logger *zap.Logger) *Submitter {
	return &Submitter{node: node, logger: logger}
}

// Node exposes the underlying node for balance queries.
func (s *Submitter) Node() Node { return s.node }

// SubmitOptions tunes a single submission.
type SubmitOptions struct {
	// ForceSend sends even when simulation fails.
	ForceSend bool
	// SkipConfirm returns right after send.
	SkipConfirm bool
}

// Simulate signs tx and simulates it. A node-level rejection is returned as
// a *SimulationError.
func (s *Submitter) Simulate(ctx context.Context, tx *solana.Transaction, signer *Signer) error {
	if err := signer.Sign(tx); err != nil {
		return err
	}
	res, err := s.node.Simulate(ctx, tx)
	if err != nil {
		return err
	}
	if res.Failed() {
		return &SimulationError{Reason: res.Err, Logs: res.Logs}
	}
	return nil
}

// Submit signs, simulates and sends tx, returning its signature once
// confirmed.
func (s *Submitter) Submit(ctx context.Context, tx *solana.Transaction, signer *Signer, opts SubmitOptions) (solana.Signature, error) {
	if err := s.Simulate(ctx, tx, signer); err != nil {
		var simErr *SimulationError
		if !opts.ForceSend || !errors.As(err, &simErr) {
			return solana.Signature{}, err
		}
		s.logger.Warn("simulation failed, sending anyway",
			zap.Any("reason", simErr.Reason),
			zap.String("logs", strings.Join(simErr.Logs, " | ")),
		)
	}
	return s.send(ctx, tx, signer, opts)
}

// SendSimulated skips simulation for a tx the caller already simulated.
func (s *Submitter) SendSimulated(ctx context.Context, tx *solana.Transaction, signer *Signer, opts SubmitOptions) (solana.Signature, error) {
	return s.send(ctx, tx, signer, opts)
}

func (s *Submitter) send(ctx context.Context, tx *solana.Transaction, signer *Signer, opts SubmitOptions) (solana.Signature, error) {
	fresh, err := s.node.LatestBlockhash(ctx)
	if err != nil {
		s.logger.Warn("blockhash refresh failed, keeping original", zap.Error(err))
	} else if !fresh.IsZero() && !fresh.Equals(tx.Message.RecentBlockhash) {
		tx.Message.RecentBlockhash = fresh
		if err := signer.Sign(tx); err != nil {
			return solana.Signature{}, fmt.Errorf("re-sign after blockhash refresh: %w", err)
		}
	}

	sig, err := s.node.Send(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if opts.SkipConfirm {
		return sig, nil
	}
	if err := s.node.Confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// Transfer sends lamports from the signer to dest.
func (s *Submitter) Transfer(ctx context.Context, signer *Signer, dest solana.PublicKey, lamports uint64) (solana.Signature, error) {
	bh, err := s.node.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := TransferTx(signer.PublicKey(), dest, lamports, bh)
	if err != nil {
		return solana.Signature{}, err
	}
	return s.Submit(ctx, tx, signer, SubmitOptions{})
}
