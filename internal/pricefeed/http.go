package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when no source knows the mint.
var ErrNoPrice = errors.New("no price")

// HTTPFeed reads {"price": n} from url?mint=.
type HTTPFeed struct {
	url    string
	client *http.Client
}

// NewHTTPFeed creates an HTTP price source with the given request timeout.
func NewHTTPFeed(url string, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{url: url, client: &http.Client{Timeout: timeout}}
}

// Price fetches the price of mint.
func (h *HTTPFeed) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	u, err := url.Parse(h.url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price feed url: %w", err)
	}
	q := u.Query()
	q.Set("mint", mint)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price feed request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read price feed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Price *decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("decode price feed response: %w", err)
	}
	if out.Price == nil || !out.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", mint, ErrNoPrice)
	}
	return *out.Price, nil
}
