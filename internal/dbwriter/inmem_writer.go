package dbwriter

import (
	"context"
	"sync"
)

// InMemWriter keeps journal rows in memory. Tests and paper runs use it.
type InMemWriter struct {
	mu          sync.RWMutex
	Executions  []Execution
	Transitions []Transition
	Decisions   []Decision
	TradePnls   []TradePnL
	IsClosed    bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{}
}

func (w *InMemWriter) SaveExecution(e Execution) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Executions = append(w.Executions, e)
}

func (w *InMemWriter) SaveTransition(t Transition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Transitions = append(w.Transitions, t)
}

func (w *InMemWriter) SaveDecision(d Decision) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Decisions = append(w.Decisions, d)
}

// SaveTradePnL appends p with its cumulative value filled in.
func (w *InMemWriter) SaveTradePnL(ctx context.Context, p TradePnL) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p.CumulativePnl = p.Pnl
	for i := len(w.TradePnls) - 1; i >= 0; i-- {
		if w.TradePnls[i].UserID == p.UserID {
			p.CumulativePnl = w.TradePnls[i].CumulativePnl.Add(p.Pnl)
			break
		}
	}
	w.TradePnls = append(w.TradePnls, p)
	return nil
}

// ExecutionsSnapshot returns a copy of the recorded executions.
func (w *InMemWriter) ExecutionsSnapshot() []Execution {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Execution(nil), w.Executions...)
}

// TransitionsSnapshot returns a copy of the recorded transitions.
func (w *InMemWriter) TransitionsSnapshot() []Transition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Transition(nil), w.Transitions...)
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}

// Clear resets all the in-memory slices.
func (w *InMemWriter) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Executions = nil
	w.Transitions = nil
	w.Decisions = nil
	w.TradePnls = nil
	w.IsClosed = false
}
