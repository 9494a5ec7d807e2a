// Package dbwriter journals execution attempts and trader activity to
// Postgres in batches.
package dbwriter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/config"
)

// Execution statuses.
const (
	StatusSuccess      = "success"
	StatusFail         = "fail"
	StatusPrecheckFail = "precheck-fail"
)

// Execution is one venue attempt.
type Execution struct {
	Time      time.Time           `db:"time"`
	AttemptID string              `db:"attempt_id"`
	Venue     string              `db:"venue"`
	Side      string              `db:"side"`
	Mint      string              `db:"mint"`
	Amount    decimal.Decimal     `db:"amount"`
	Status    string              `db:"status"`
	LatencyMs int64               `db:"latency_ms"`
	TxRef     string              `db:"tx_ref"`
	Price     decimal.NullDecimal `db:"price"`
	Error     string              `db:"error"`
	DryRun    bool                `db:"dry_run"`
}

// Transition is a trade loop state change.
type Transition struct {
	Time   time.Time           `db:"time"`
	UserID string              `db:"user_id"`
	Mint   string              `db:"mint"`
	From   string              `db:"from_state"`
	To     string              `db:"to_state"`
	Price  decimal.NullDecimal `db:"price"`
	Note   string              `db:"note"`
}

// Decision is a gate verdict on a scored asset.
type Decision struct {
	Time     time.Time `db:"time"`
	Mint     string    `db:"mint"`
	Mask     int       `db:"mask"`
	MaskBits int       `db:"mask_bits"`
	Strong   bool      `db:"strong"`
	Aux      bool      `db:"aux"`
	Score    float64   `db:"score"`
	Accepted bool      `db:"accepted"`
}

// TradePnL is the PnL realized by one sell.
type TradePnL struct {
	UserID        string          `db:"user_id"`
	Mint          string          `db:"mint"`
	TxRef         string          `db:"tx_ref"`
	Pnl           decimal.Decimal `db:"pnl"`
	CumulativePnl decimal.Decimal `db:"cumulative_pnl"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

var (
	executionColumns  = []string{"time", "attempt_id", "venue", "side", "mint", "amount", "status", "latency_ms", "tx_ref", "price", "error", "dry_run"}
	transitionColumns = []string{"time", "user_id", "mint", "from_state", "to_state", "price", "note"}
	decisionColumns   = []string{"time", "mint", "mask", "mask_bits", "strong", "aux", "score", "accepted"}
)

// PGWriter buffers journal rows and flushes them with COPY.
type PGWriter struct {
	pool             Pool
	logger           *zap.Logger
	config           config.DBWriterConfig
	executionBuffer  []Execution
	transitionBuffer []Transition
	decisionBuffer   []Decision
	bufferMutex      sync.Mutex
	flushTicker      *time.Ticker
	shutdownChan     chan struct{}
	closeOnce        sync.Once
}

// NewPGWriter starts a batching writer on pool. The pool is not closed by
// the writer.
func NewPGWriter(pool Pool, writerConfig config.DBWriterConfig, logger *zap.Logger) (*PGWriter, error) {
	if pool == nil {
		return nil, errors.New("dbwriter: nil pool")
	}
	if writerConfig.WriteIntervalSeconds <= 0 {
		logger.Warn("WriteIntervalSeconds is zero or negative, defaulting to 1s.", zap.Int("originalValue", writerConfig.WriteIntervalSeconds))
		writerConfig.WriteIntervalSeconds = 1
	}
	if writerConfig.BatchSize <= 0 {
		logger.Warn("BatchSize is zero or negative, defaulting to 100.", zap.Int("originalValue", writerConfig.BatchSize))
		writerConfig.BatchSize = 100
	}

	w := &PGWriter{
		pool:             pool,
		logger:           logger,
		config:           writerConfig,
		executionBuffer:  make([]Execution, 0, writerConfig.BatchSize),
		transitionBuffer: make([]Transition, 0, writerConfig.BatchSize),
		decisionBuffer:   make([]Decision, 0, writerConfig.BatchSize),
		flushTicker:      time.NewTicker(time.Duration(writerConfig.WriteIntervalSeconds) * time.Second),
		shutdownChan:     make(chan struct{}),
	}
	go w.run()
	logger.Info("Started journal batch writer")
	return w, nil
}

// Close stops the background flusher and writes whatever is buffered. The
// pool is left open; it is shared with the state store.
func (w *PGWriter) Close() {
	w.closeOnce.Do(func() {
		w.logger.Info("Closing journal writer...")
		close(w.shutdownChan)
		w.flushTicker.Stop()
		w.flushBuffers()
	})
}

func (w *PGWriter) run() {
	for {
		select {
		case <-w.flushTicker.C:
			w.flushBuffers()
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveExecution buffers an execution row.
func (w *PGWriter) SaveExecution(e Execution) {
	w.bufferMutex.Lock()
	w.executionBuffer = append(w.executionBuffer, e)
	shouldFlush := len(w.executionBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

// SaveTransition buffers a transition row.
func (w *PGWriter) SaveTransition(t Transition) {
	w.bufferMutex.Lock()
	w.transitionBuffer = append(w.transitionBuffer, t)
	shouldFlush := len(w.transitionBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

// SaveDecision buffers a gate decision row.
func (w *PGWriter) SaveDecision(d Decision) {
	w.bufferMutex.Lock()
	w.decisionBuffer = append(w.decisionBuffer, d)
	shouldFlush := len(w.decisionBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

func (w *PGWriter) flushBuffers() {
	w.bufferMutex.Lock()
	defer w.bufferMutex.Unlock()
	ctx := context.Background()

	if len(w.executionBuffer) > 0 {
		w.copy(ctx, "executions", executionColumns, toExecutionRows(w.executionBuffer))
		w.executionBuffer = w.executionBuffer[:0]
	}
	if len(w.transitionBuffer) > 0 {
		w.copy(ctx, "trader_transitions", transitionColumns, toTransitionRows(w.transitionBuffer))
		w.transitionBuffer = w.transitionBuffer[:0]
	}
	if len(w.decisionBuffer) > 0 {
		w.copy(ctx, "gate_decisions", decisionColumns, toDecisionRows(w.decisionBuffer))
		w.decisionBuffer = w.decisionBuffer[:0]
	}
}

func (w *PGWriter) copy(ctx context.Context, table string, columns []string, rows [][]interface{}) {
	w.logger.Debug("Flushing journal rows", zap.String("table", table), zap.Int("count", len(rows)))
	if _, err := w.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		w.logger.Error("Failed to batch insert journal rows", zap.String("table", table), zap.Error(err))
	}
}

func toExecutionRows(es []Execution) [][]interface{} {
	rows := make([][]interface{}, len(es))
	for i, e := range es {
		rows[i] = []interface{}{e.Time, e.AttemptID, e.Venue, e.Side, e.Mint, e.Amount, e.Status, e.LatencyMs, e.TxRef, e.Price, e.Error, e.DryRun}
	}
	return rows
}

func toTransitionRows(ts []Transition) [][]interface{} {
	rows := make([][]interface{}, len(ts))
	for i, t := range ts {
		rows[i] = []interface{}{t.Time, t.UserID, t.Mint, t.From, t.To, t.Price, t.Note}
	}
	return rows
}

func toDecisionRows(ds []Decision) [][]interface{} {
	rows := make([][]interface{}, len(ds))
	for i, d := range ds {
		rows[i] = []interface{}{d.Time, d.Mint, d.Mask, d.MaskBits, d.Strong, d.Aux, d.Score, d.Accepted}
	}
	return rows
}

// SaveTradePnL stores the PnL of a sell together with the running total.
func (w *PGWriter) SaveTradePnL(ctx context.Context, p TradePnL) error {
	var last decimal.Decimal
	err := w.pool.QueryRow(ctx, "SELECT cumulative_pnl FROM trades_pnl WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1", p.UserID).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		w.logger.Error("Failed to get last cumulative PnL", zap.Error(err))
		return fmt.Errorf("failed to get last cumulative PnL: %w", err)
	}
	p.CumulativePnl = last.Add(p.Pnl)

	query := `INSERT INTO trades_pnl (user_id, mint, tx_ref, pnl, cumulative_pnl, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := w.pool.Exec(ctx, query, p.UserID, p.Mint, p.TxRef, p.Pnl, p.CumulativePnl, p.CreatedAt); err != nil {
		w.logger.Error("Failed to insert trade PnL", zap.Error(err), zap.String("mint", p.Mint))
		return fmt.Errorf("failed to insert trade PnL: %w", err)
	}
	return nil
}
