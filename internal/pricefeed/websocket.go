// Package pricefeed tracks token prices pushed over a websocket, with an
// HTTP endpoint as fallback.
package pricefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay = 2 * time.Second
	pingInterval          = 30 * time.Second
	writeWait             = 5 * time.Second
)

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// WSFeed keeps the last price pushed for every mint. Messages are
// {"mint": "...", "price": 0.1} or an array of those.
type WSFeed struct {
	url    string
	logger *zap.Logger
	dialer *websocket.Dialer

	// ReconnectDelay is the pause after a close or error.
	ReconnectDelay time.Duration
	// OnReconnect is called before every redial.
	OnReconnect func()

	mu     sync.RWMutex
	prices map[string]quote
}

// NewWSFeed creates a feed for url. Nothing is dialed until Run.
func NewWSFeed(url string, logger *zap.Logger) *WSFeed {
	return &WSFeed{
		url:            url,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		ReconnectDelay: defaultReconnectDelay,
		prices:         make(map[string]quote),
	}
}

// Price returns the last pushed price for mint. Lookup ignores case.
func (f *WSFeed) Price(mint string) (decimal.Decimal, bool) {
	if mint == "" {
		return decimal.Zero, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.prices[strings.ToLower(mint)]
	return q.price, ok
}

// Len is the number of mints with a known price.
func (f *WSFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.prices)
}

// Run connects and reads until ctx is done, reconnecting after every close
// or error.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("price feed disconnected, reconnecting", zap.Error(err), zap.Duration("delay", f.ReconnectDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.ReconnectDelay):
		}
		if f.OnReconnect != nil {
			f.OnReconnect()
		}
	}
}

// session runs one connection to completion.
func (f *WSFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.logger.Info("price feed connected", zap.String("url", f.url))

	done := make(chan error, 1)
	go func() {
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
				f.handle(message)
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case err := <-done:
			conn.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("closed by server")
			}
			return err
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return err
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
			conn.Close()
			return ctx.Err()
		}
	}
}

type priceMessage struct {
	Mint  string      `json:"mint"`
	Price json.Number `json:"price"`
}

// handle stores every well formed entry of message and ignores the rest.
func (f *WSFeed) handle(message []byte) {
	trimmed := bytes.TrimSpace(message)
	var batch []priceMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			f.logger.Debug("unparseable price batch", zap.Error(err))
			return
		}
		for _, r := range raw {
			var m priceMessage
			if json.Unmarshal(r, &m) == nil {
				batch = append(batch, m)
			}
		}
	} else {
		var m priceMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			f.logger.Debug("unparseable price message", zap.Error(err))
			return
		}
		batch = append(batch, m)
	}

	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range batch {
		if m.Mint == "" || m.Price == "" {
			continue
		}
		p, err := decimal.NewFromString(m.Price.String())
		if err != nil {
			continue
		}
		f.prices[strings.ToLower(m.Mint)] = quote{price: p, at: now}
	}
}
