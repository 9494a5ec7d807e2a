package pricefeed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fallback is any slower price source, typically the venues.
type Fallback interface {
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
}

// Source asks the websocket cache, then the HTTP feed, then the fallback.
// Any of them may be nil.
type Source struct {
	WS       *WSFeed
	HTTP     *HTTPFeed
	Fallback Fallback
	Logger   *zap.Logger
}

// Price returns the first positive price found.
func (s *Source) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	if s.WS != nil {
		if p, ok := s.WS.Price(mint); ok && p.IsPositive() {
			return p, nil
		}
	}
	var lastErr error
	if s.HTTP != nil {
		p, err := s.HTTP.Price(ctx, mint)
		if err == nil {
			return p, nil
		}
		lastErr = err
		s.debug("http price failed", mint, err)
	}
	if s.Fallback != nil {
		p, err := s.Fallback.Price(ctx, mint)
		if err == nil && p.IsPositive() {
			return p, nil
		}
		if err != nil {
			lastErr = err
		}
		s.debug("fallback price failed", mint, err)
	}
	if lastErr != nil {
		return decimal.Zero, fmt.Errorf("%s: %w: %v", mint, ErrNoPrice, lastErr)
	}
	return decimal.Zero, fmt.Errorf("%s: %w", mint, ErrNoPrice)
}

func (s *Source) debug(msg, mint string, err error) {
	if s.Logger != nil {
		s.Logger.Debug(msg, zap.String("mint", mint), zap.Error(err))
	}
}
