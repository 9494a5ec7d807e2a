// Package store persists trade loop state keyed by (user, mint).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/config"
)

var (
	// ErrNotFound is returned when no record exists for a (user, mint) pair.
	ErrNotFound = errors.New("trader state not found")
	// ErrConflict is returned on a unique key violation.
	ErrConflict = errors.New("trader state conflict")
)

// TraderState is the persisted record of one trade loop.
type TraderState struct {
	UserID        string
	Mint          string
	State         string
	InPosition    bool
	EntryPrice    decimal.NullDecimal
	LastSellPrice decimal.NullDecimal
	TradeCount    int
	LastTradeAt   time.Time
	CreatedAt     time.Time
}

// Key identifies the record.
func (s TraderState) Key() string { return s.UserID + "/" + s.Mint }

// stateJSON is the on-disk layout of the file store.
type stateJSON struct {
	UserID      string              `json:"userId"`
	Mint        string              `json:"mint"`
	State       string              `json:"state,omitempty"`
	InPos       bool                `json:"in_pos"`
	Entry       decimal.NullDecimal `json:"entry"`
	LastSell    decimal.NullDecimal `json:"last_sell"`
	CreatedAt   int64               `json:"createdAt"`
	TradeCount  int                 `json:"tradeCount"`
	LastTradeTs int64               `json:"lastTradeTs,omitempty"`
}

// MarshalJSON writes times as unix milliseconds.
func (s TraderState) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		UserID:     s.UserID,
		Mint:       s.Mint,
		State:      s.State,
		InPos:      s.InPosition,
		Entry:      s.EntryPrice,
		LastSell:   s.LastSellPrice,
		CreatedAt:  s.CreatedAt.UnixMilli(),
		TradeCount: s.TradeCount,
	}
	if !s.LastTradeAt.IsZero() {
		out.LastTradeTs = s.LastTradeAt.UnixMilli()
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the layout written by MarshalJSON.
func (s *TraderState) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = TraderState{
		UserID:        in.UserID,
		Mint:          in.Mint,
		State:         in.State,
		InPosition:    in.InPos,
		EntryPrice:    in.Entry,
		LastSellPrice: in.LastSell,
		TradeCount:    in.TradeCount,
	}
	if in.CreatedAt > 0 {
		s.CreatedAt = time.UnixMilli(in.CreatedAt).UTC()
	}
	if in.LastTradeTs > 0 {
		s.LastTradeAt = time.UnixMilli(in.LastTradeTs).UTC()
	}
	return nil
}

// Store is the trader state contract. Upsert keeps the original CreatedAt.
type Store interface {
	Upsert(ctx context.Context, s TraderState) error
	Get(ctx context.Context, userID, mint string) (TraderState, error)
	Delete(ctx context.Context, userID, mint string) error
	List(ctx context.Context) ([]TraderState, error)
}

// Open builds the store selected by cfg.Driver. db is only used by the
// postgres driver.
func Open(cfg config.StoreConfig, db DB, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "", "file":
		return NewFile(cfg.Path, logger), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("store: postgres driver needs a database connection")
		}
		return NewPostgres(db, logger), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func stamp(s TraderState, prev *TraderState, now time.Time) TraderState {
	if prev != nil && !prev.CreatedAt.IsZero() {
		s.CreatedAt = prev.CreatedAt
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now.UTC()
	}
	return s
}
