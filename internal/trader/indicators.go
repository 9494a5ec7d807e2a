package trader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Indicators are the oscillator readings for one timeframe.
type Indicators struct {
	J, K, D         float64
	WR6, WR10, WR14 float64
}

// Hit reports whether the readings confirm an entry: J≤8, 25≤K≤30, D≥40
// and every Williams %R reading ≥85.
func (i Indicators) Hit() bool {
	return i.J <= 8 &&
		i.K >= 25 && i.K <= 30 &&
		i.D >= 40 &&
		i.WR6 >= 85 && i.WR10 >= 85 && i.WR14 >= 85
}

// Confirmer counts the timeframes that confirm an entry.
type Confirmer interface {
	Confirmations(ctx context.Context, timeframes []string) int
}

// IndicatorClient reads indicators from GET {baseURL}{timeframe}.
type IndicatorClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewIndicatorClient creates a client with the given request timeout.
func NewIndicatorClient(baseURL string, timeout time.Duration, logger *zap.Logger) *IndicatorClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &IndicatorClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}, logger: logger}
}

// Fetch returns the indicators of one timeframe.
func (c *IndicatorClient) Fetch(ctx context.Context, timeframe string) (Indicators, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+timeframe, nil)
	if err != nil {
		return Indicators{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Indicators{}, fmt.Errorf("indicators %s: %w", timeframe, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Indicators{}, fmt.Errorf("indicators %s: read body: %w", timeframe, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Indicators{}, fmt.Errorf("indicators %s returned %d", timeframe, resp.StatusCode)
	}
	return parseIndicators(body)
}

// Confirmations fetches every timeframe concurrently. A timeframe that
// fails counts as no hit.
func (c *IndicatorClient) Confirmations(ctx context.Context, timeframes []string) int {
	var hits atomic.Int32
	var g errgroup.Group
	for _, tf := range timeframes {
		g.Go(func() error {
			ind, err := c.Fetch(ctx, tf)
			if err != nil {
				c.logger.Debug("Indicator fetch failed", zap.String("timeframe", tf), zap.Error(err))
				return nil
			}
			if ind.Hit() {
				hits.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(hits.Load())
}

func parseIndicators(body []byte) (Indicators, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Indicators{}, fmt.Errorf("decode indicators: %w", err)
	}
	return Indicators{
		J:    lookup(raw, "J"),
		K:    lookup(raw, "K"),
		D:    lookup(raw, "D"),
		WR6:  lookup(raw, "WR6"),
		WR10: lookup(raw, "WR10"),
		WR14: lookup(raw, "WR14"),
	}, nil
}

// lookup prefers the exact key and falls back to any casing. Missing or
// non-numeric values read as zero.
func lookup(raw map[string]any, key string) float64 {
	v, ok := raw[key]
	if !ok {
		for k, candidate := range raw {
			if strings.EqualFold(k, key) {
				v, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	case float64:
		return n
	}
	return 0
}
