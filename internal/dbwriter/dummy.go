package dbwriter

import (
	"context"

	"github.com/your-org/ledger-sniper-bot/pkg/logger"
)

// dummyWriter logs journal rows instead of storing them. It is used when
// no database is configured.
type dummyWriter struct {
	logger logger.Logger
}

// NewDummyWriter creates a new dummy writer.
func NewDummyWriter(l logger.Logger) Writer {
	l.Info("Creating dummy journal writer because no database connection is available.")
	return &dummyWriter{logger: l}
}

func (d *dummyWriter) SaveExecution(e Execution) {
	d.logger.Debugf("journal: execution attempt=%s venue=%s side=%s mint=%s status=%s latency=%dms tx=%s err=%s",
		e.AttemptID, e.Venue, e.Side, e.Mint, e.Status, e.LatencyMs, e.TxRef, e.Error)
}

func (d *dummyWriter) SaveTransition(t Transition) {
	d.logger.Debugf("journal: transition user=%s mint=%s %s -> %s %s", t.UserID, t.Mint, t.From, t.To, t.Note)
}

func (d *dummyWriter) SaveDecision(dec Decision) {
	d.logger.Debugf("journal: decision mint=%s bits=%d score=%.2f accepted=%t", dec.Mint, dec.MaskBits, dec.Score, dec.Accepted)
}

func (d *dummyWriter) SaveTradePnL(ctx context.Context, p TradePnL) error {
	d.logger.Debugf("journal: pnl user=%s mint=%s pnl=%s", p.UserID, p.Mint, p.Pnl.String())
	return nil
}

func (d *dummyWriter) Close() {
	d.logger.Debug("Dummy writer: Close called")
}
