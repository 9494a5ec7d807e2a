package engine

import (
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrNoVenues is returned when the orchestrator has nothing to race.
	ErrNoVenues = errors.New("no venues configured")
	// ErrZeroBalance is returned by an ALL sell when nothing is held.
	ErrZeroBalance = errors.New("zero token balance")
	// ErrInsufficientFunds is returned by the buy balance pre-check.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// AggregateError lists why every venue failed.
type AggregateError struct {
	errs *multierror.Error
}

func newAggregateError(errs []error) *AggregateError {
	var m *multierror.Error
	for _, err := range errs {
		m = multierror.Append(m, err)
	}
	if m == nil {
		m = &multierror.Error{}
	}
	m.ErrorFormat = func(es []error) string {
		parts := make([]string, len(es))
		for i, e := range es {
			parts[i] = e.Error()
		}
		return "all sources failed: " + strings.Join(parts, " | ")
	}
	return &AggregateError{errs: m}
}

func (e *AggregateError) Error() string { return e.errs.Error() }

// Errors returns the per-venue failures in the order they arrived.
func (e *AggregateError) Errors() []error { return e.errs.WrappedErrors() }

// Unwrap lets errors.Is match any of the venue failures.
func (e *AggregateError) Unwrap() []error { return e.errs.WrappedErrors() }
