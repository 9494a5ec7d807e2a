package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// DB is the subset of pgxpool.Pool the postgres store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Postgres stores state in the trader_state table.
type Postgres struct {
	db     DB
	logger *zap.Logger
}

func NewPostgres(db DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

const upsertQuery = `
INSERT INTO trader_state (user_id, mint, state, in_position, entry_price, last_sell_price, trade_count, last_trade_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
ON CONFLICT (user_id, mint) DO UPDATE SET
    state = EXCLUDED.state,
    in_position = EXCLUDED.in_position,
    entry_price = EXCLUDED.entry_price,
    last_sell_price = EXCLUDED.last_sell_price,
    trade_count = EXCLUDED.trade_count,
    last_trade_at = EXCLUDED.last_trade_at,
    updated_at = NOW()`

const selectColumns = `SELECT user_id, mint, state, in_position, entry_price, last_sell_price, trade_count, last_trade_at, created_at FROM trader_state`

func (p *Postgres) Upsert(ctx context.Context, s TraderState) error {
	s = stamp(s, nil, time.Now())
	lastTrade := pgtype.Timestamptz{Time: s.LastTradeAt, Valid: !s.LastTradeAt.IsZero()}
	_, err := p.db.Exec(ctx, upsertQuery,
		s.UserID, s.Mint, s.State, s.InPosition, s.EntryPrice, s.LastSellPrice, s.TradeCount, lastTrade, s.CreatedAt)
	if err != nil {
		p.logger.Error("Failed to upsert trader state", zap.String("user", s.UserID), zap.String("mint", s.Mint), zap.Error(err))
		return mapErr("upsert", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, userID, mint string) (TraderState, error) {
	row := p.db.QueryRow(ctx, selectColumns+` WHERE user_id = $1 AND mint = $2`, userID, mint)
	s, err := scanState(row)
	if err != nil {
		return TraderState{}, mapErr("get", err)
	}
	return s, nil
}

func (p *Postgres) Delete(ctx context.Context, userID, mint string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM trader_state WHERE user_id = $1 AND mint = $2`, userID, mint)
	if err != nil {
		return mapErr("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]TraderState, error) {
	rows, err := p.db.Query(ctx, selectColumns+` ORDER BY created_at ASC, user_id ASC, mint ASC`)
	if err != nil {
		return nil, mapErr("list", err)
	}
	defer rows.Close()

	var out []TraderState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, mapErr("list scan", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list", err)
	}
	return out, nil
}

func scanState(row pgx.Row) (TraderState, error) {
	var s TraderState
	var lastTrade pgtype.Timestamptz
	err := row.Scan(&s.UserID, &s.Mint, &s.State, &s.InPosition, &s.EntryPrice, &s.LastSellPrice, &s.TradeCount, &lastTrade, &s.CreatedAt)
	if err != nil {
		return TraderState{}, err
	}
	if lastTrade.Valid {
		s.LastTradeAt = lastTrade.Time
	}
	return s, nil
}

func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.Detail)
	}
	return fmt.Errorf("trader state %s: %w", op, err)
}
