package dbwriter

import (
	"context"
)

// Writer journals executions, trader transitions and gate decisions.
// Implementations must be safe for concurrent use.
type Writer interface {
	SaveExecution(e Execution)
	SaveTransition(t Transition)
	SaveDecision(d Decision)
	SaveTradePnL(ctx context.Context, p TradePnL) error
	Close()
}
