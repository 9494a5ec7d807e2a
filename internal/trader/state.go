// Package trader runs one polling trade loop per (user, mint) pair.
package trader

import (
	"errors"
	"time"
)

// State is a trade loop state.
type State string

const (
	Flat        State = "FLAT"
	Entering    State = "ENTERING"
	InPosition  State = "IN_POSITION"
	Exiting     State = "EXITING"
	CoolingDown State = "COOLING_DOWN"
)

// resumeState maps a persisted state to the state a resumed loop starts in.
// A crash mid-order leaves Entering or Exiting behind; the position flag
// decides which side of the order we are on.
func resumeState(s string, inPosition bool) State {
	if inPosition {
		return InPosition
	}
	if State(s) == CoolingDown {
		return CoolingDown
	}
	return Flat
}

var (
	// ErrCooldown is returned while the last trade is more recent than the
	// cooldown.
	ErrCooldown = errors.New("trade cooldown active")
	// ErrMaxTrades is returned once the pair reached its trade cap.
	ErrMaxTrades = errors.New("max trades reached")
)

// Guard enforces the cooldown and the per-pair trade cap.
type Guard struct {
	Cooldown  time.Duration
	MaxTrades int
}

// Allow reports whether a trade may happen at now given the pair's trade
// count and last trade time.
func (g Guard) Allow(count int, lastTrade, now time.Time) error {
	if g.MaxTrades > 0 && count >= g.MaxTrades {
		return ErrMaxTrades
	}
	return g.AllowExit(lastTrade, now)
}

// AllowExit applies only the cooldown. The trade cap limits entries, so a
// position opened by the last allowed trade can still be sold.
func (g Guard) AllowExit(lastTrade, now time.Time) error {
	if !lastTrade.IsZero() && now.Sub(lastTrade) < g.Cooldown {
		return ErrCooldown
	}
	return nil
}
