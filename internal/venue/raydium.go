package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/your-org/ledger-sniper-bot/internal/chain"
	"go.uber.org/zap"
)

// Raydium swaps through the Raydium trade API. Pool math stays on their side.
type Raydium struct {
	swapper
	http httpClient
}

// NewRaydium creates the Raydium venue.
func NewRaydium(opts Options, sub *chain.Submitter, logger *zap.Logger) *Raydium {
	r := &Raydium{http: newHTTPClient(opts.Timeout)}
	r.swapper = swapper{name: "raydium", api: r, sub: sub, opts: opts, logger: logger}
	return r
}

func (r *Raydium) Name() string { return r.name }

type raydiumCompute struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Version string `json:"version"`
	Msg     string `json:"msg"`
	Data    struct {
		InputAmount  string `json:"inputAmount"`
		OutputAmount string `json:"outputAmount"`
		SlippageBps  int    `json:"slippageBps"`
	} `json:"data"`
}

func (r *Raydium) quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("txVersion", "V0")

	var raw json.RawMessage
	if err := r.http.getJSON(ctx, strings.TrimRight(r.opts.BaseURL, "/")+"/compute/swap-base-in?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	var rc raydiumCompute
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("failed to decode compute response: %w", err)
	}
	if !rc.Success {
		return nil, fmt.Errorf("raydium compute: %s", rc.Msg)
	}
	in, err := strconv.ParseUint(rc.Data.InputAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("raydium compute inputAmount %q: %w", rc.Data.InputAmount, err)
	}
	out, err := strconv.ParseUint(rc.Data.OutputAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("raydium compute outputAmount %q: %w", rc.Data.OutputAmount, err)
	}
	if out == 0 {
		return nil, ErrNoRoute
	}
	return &quote{InAmount: in, OutAmount: out, SlippageBps: slippageBps, raw: raw}, nil
}

type raydiumTxRequest struct {
	ComputeUnitPriceMicroLamports string          `json:"computeUnitPriceMicroLamports"`
	SwapResponse                  json.RawMessage `json:"swapResponse"`
	TxVersion                     string          `json:"txVersion"`
	Wallet                        string          `json:"wallet"`
	WrapSol                       bool            `json:"wrapSol"`
	UnwrapSol                     bool            `json:"unwrapSol"`
}

type raydiumTxResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    []struct {
		Transaction string `json:"transaction"`
	} `json:"data"`
}

func (r *Raydium) transactions(ctx context.Context, q *quote, user solana.PublicKey, side Side) ([]string, error) {
	var resp raydiumTxResponse
	err := r.http.postJSON(ctx, strings.TrimRight(r.opts.BaseURL, "/")+"/transaction/swap-base-in", raydiumTxRequest{
		ComputeUnitPriceMicroLamports: "100000",
		SwapResponse:                  q.raw,
		TxVersion:                     "V0",
		Wallet:                        user.String(),
		WrapSol:                       side == Buy,
		UnwrapSol:                     side == Sell,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("raydium transaction: %s", resp.Msg)
	}
	out := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.Transaction != "" {
			out = append(out, d.Transaction)
		}
	}
	return out, nil
}

// Precheck requires a nonzero price for the mint.
func (r *Raydium) Precheck(ctx context.Context, o Order) error {
	p, err := r.Price(ctx, o.Mint)
	if err != nil {
		return fmt.Errorf("%w: raydium: %w", ErrPrecheck, err)
	}
	if !p.IsPositive() {
		return fmt.Errorf("%w: raydium: zero price for %s", ErrPrecheck, o.Mint)
	}
	return nil
}

// Execute runs the swap.
func (r *Raydium) Execute(ctx context.Context, o Order, signer *chain.Signer) (Result, error) {
	return r.execute(ctx, o, signer)
}

type raydiumPriceResponse struct {
	Success bool                       `json:"success"`
	Data    map[string]decimal.Decimal `json:"data"`
}

// Price reads the Raydium mint price endpoint, which quotes in USD, and
// divides by the SOL price to get a SOL denominated value.
func (r *Raydium) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("mints", mint+","+SOLMint)
	var resp raydiumPriceResponse
	if err := r.http.getJSON(ctx, r.opts.PriceURL+"?"+q.Encode(), &resp); err != nil {
		return decimal.Zero, err
	}
	tok, ok := resp.Data[mint]
	if !ok {
		return decimal.Zero, fmt.Errorf("raydium price: no data for %s", mint)
	}
	sol, ok := resp.Data[SOLMint]
	if !ok || !sol.IsPositive() {
		return decimal.Zero, fmt.Errorf("raydium price: no SOL reference price")
	}
	return tok.Div(sol), nil
}
