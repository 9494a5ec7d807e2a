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

// Jupiter routes swaps through the Jupiter aggregator.
type Jupiter struct {
	swapper
	http httpClient
}

// NewJupiter creates the Jupiter venue.
func NewJupiter(opts Options, sub *chain.Submitter, logger *zap.Logger) *Jupiter {
	j := &Jupiter{http: newHTTPClient(opts.Timeout)}
	j.swapper = swapper{name: "jupiter", api: j, sub: sub, opts: opts, logger: logger}
	return j
}

func (j *Jupiter) Name() string { return j.name }

type jupiterQuote struct {
	InputMint      string          `json:"inputMint"`
	InAmount       string          `json:"inAmount"`
	OutputMint     string          `json:"outputMint"`
	OutAmount      string          `json:"outAmount"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
	Error          string          `json:"error"`
}

func (j *Jupiter) quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	var raw json.RawMessage
	if err := j.http.getJSON(ctx, strings.TrimRight(j.opts.BaseURL, "/")+"/quote?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	var jq jupiterQuote
	if err := json.Unmarshal(raw, &jq); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	if jq.Error != "" {
		return nil, fmt.Errorf("jupiter quote: %s", jq.Error)
	}
	in, err := strconv.ParseUint(jq.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote inAmount %q: %w", jq.InAmount, err)
	}
	out, err := strconv.ParseUint(jq.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote outAmount %q: %w", jq.OutAmount, err)
	}
	if out == 0 {
		return nil, ErrNoRoute
	}
	return &quote{InAmount: in, OutAmount: out, SlippageBps: slippageBps, raw: raw}, nil
}

type jupiterSwapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

type jupiterSwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

func (j *Jupiter) transactions(ctx context.Context, q *quote, user solana.PublicKey, _ Side) ([]string, error) {
	var resp jupiterSwapResponse
	err := j.http.postJSON(ctx, strings.TrimRight(j.opts.BaseURL, "/")+"/swap", jupiterSwapRequest{
		QuoteResponse:             q.raw,
		UserPublicKey:             user.String(),
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("jupiter swap: %s", resp.Error)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter swap: missing swapTransaction")
	}
	return []string{resp.SwapTransaction}, nil
}

// Precheck requires a route whose output reaches MinOut.
func (j *Jupiter) Precheck(ctx context.Context, o Order) error {
	in, out := o.pair()
	bps := 50
	if len(o.SlippageBps) > 0 {
		bps = o.SlippageBps[0]
	}
	q, err := j.quote(ctx, in, out, o.Amount, bps)
	if err != nil {
		return fmt.Errorf("%w: jupiter: %w", ErrPrecheck, err)
	}
	if q.OutAmount < j.opts.MinOut {
		return fmt.Errorf("%w: jupiter: outAmount %d below %d", ErrPrecheck, q.OutAmount, j.opts.MinOut)
	}
	return nil
}

// Execute runs the swap.
func (j *Jupiter) Execute(ctx context.Context, o Order, signer *chain.Signer) (Result, error) {
	return j.execute(ctx, o, signer)
}

// Price reads the Jupiter price API.
func (j *Jupiter) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	return jupiterPrice(ctx, j.http, j.opts.PriceURL, mint)
}

type jupiterPriceResponse struct {
	Data map[string]*struct {
		ID    string          `json:"id"`
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

// jupiterPrice returns the SOL price of mint. The API quotes in USD unless
// vsToken is given, so the SOL mint is requested as the quote token.
func jupiterPrice(ctx context.Context, c httpClient, base, mint string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", mint)
	q.Set("vsToken", SOLMint)
	var resp jupiterPriceResponse
	if err := c.getJSON(ctx, base+"?"+q.Encode(), &resp); err != nil {
		return decimal.Zero, err
	}
	entry, ok := resp.Data[mint]
	if !ok || entry == nil {
		return decimal.Zero, fmt.Errorf("jupiter price: no data for %s", mint)
	}
	return entry.Price, nil
}
