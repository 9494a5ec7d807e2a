package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// LamportsPerSOL is the SOL base unit ratio.
const LamportsPerSOL = solana.LAMPORTS_PER_SOL

// TokenAccountSize is the data length of an SPL token account, used to price
// the rent of the account a buy may open.
const TokenAccountSize = 165

// Node is the subset of RPC calls the executors need.
type Node interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature) error
	SOLBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (*big.Int, error)
	RentExemption(ctx context.Context, size uint64) (uint64, error)
}

// SimulationResult carries the node's verdict on a simulated transaction.
type SimulationResult struct {
	Err  any
	Logs []string
}

// Failed reports whether the node rejected the transaction.
func (r *SimulationResult) Failed() bool { return r != nil && r.Err != nil }

// Client implements Node over JSON-RPC.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *zap.Logger

	confirmPoll    time.Duration
	confirmTimeout time.Duration
}

// NewClient dials nothing; requests are made lazily.
func NewClient(endpoint, commitment string, logger *zap.Logger) *Client {
	c := rpc.CommitmentConfirmed
	switch commitment {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	return &Client{
		rpc:            rpc.New(endpoint),
		commitment:     c,
		logger:         logger,
		confirmPoll:    500 * time.Millisecond,
		confirmTimeout: 60 * time.Second,
	}
}

// LatestBlockhash returns the most recent blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	res, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

// Simulate runs tx without signature verification.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	res, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("simulate transaction: %w", err)
	}
	if res == nil || res.Value == nil {
		return &SimulationResult{}, nil
	}
	return &SimulationResult{Err: res.Value.Err, Logs: res.Value.Logs}, nil
}

// Send submits tx. Preflight is skipped since every caller simulates first.
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// Confirm polls the signature status until it reaches the client commitment,
// fails on chain, or the confirm timeout elapses.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()
	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			c.logger.Debug("signature status", zap.Stringer("sig", sig), zap.Error(err))
		} else if len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, st.Err)
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusFinalized:
				return nil
			case rpc.ConfirmationStatusConfirmed:
				if c.commitment != rpc.CommitmentFinalized {
					return nil
				}
			case rpc.ConfirmationStatusProcessed:
				if c.commitment == rpc.CommitmentProcessed {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// SOLBalance returns the lamport balance of owner.
func (c *Client) SOLBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	res, err := c.rpc.GetBalance(ctx, owner, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return res.Value, nil
}

// TokenBalance sums the raw balance of every token account owner holds for
// mint.
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (*big.Int, error) {
	res, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: mint.ToPointer()},
		&rpc.GetTokenAccountsOpts{Commitment: c.commitment},
	)
	if err != nil {
		return nil, fmt.Errorf("get token accounts: %w", err)
	}
	total := new(big.Int)
	for _, acct := range res.Value {
		bal, err := c.rpc.GetTokenAccountBalance(ctx, acct.Pubkey, c.commitment)
		if err != nil {
			return nil, fmt.Errorf("get token account balance %s: %w", acct.Pubkey, err)
		}
		if bal.Value == nil {
			continue
		}
		n, ok := new(big.Int).SetString(bal.Value.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("token account %s: bad amount %q", acct.Pubkey, bal.Value.Amount)
		}
		total.Add(total, n)
	}
	return total, nil
}

// RentExemption returns the rent-exempt minimum for an account of size bytes.
func (c *Client) RentExemption(ctx context.Context, size uint64) (uint64, error) {
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("get rent exemption: %w", err)
	}
	return lamports, nil
}

// TransferTx builds an unsigned system transfer.
func TransferTx(from, to solana.PublicKey, lamports uint64, blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, from, to).Build()},
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}
	return tx, nil
}
