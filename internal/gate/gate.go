// Package gate turns a ledger mask into an accept/reject decision.
package gate

import (
	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/ledger"
)

// Weights configures the linear score.
type Weights struct {
	Mask      float64
	Strong    float64
	Aux       float64
	Threshold float64
}

// DefaultWeights returns 1/5/3 with an acceptance threshold of 6.
func DefaultWeights() Weights {
	return Weights{Mask: 1, Strong: 5, Aux: 3, Threshold: 6}
}

// FromConfig maps the gate section onto Weights.
func FromConfig(c config.GateConfig) Weights {
	return Weights{Mask: c.MaskWeight, Strong: c.StrongWeight, Aux: c.AuxWeight, Threshold: c.Threshold}
}

// Input is what the gate scores.
type Input struct {
	MaskBits int
	Strong   bool
	// Aux is the external auxiliary flag, typically a program-level
	// classifier verdict supplied by the collector.
	Aux bool
}

// InputFor builds an Input from an engine signal.
func InputFor(sig ledger.Signal, aux bool) Input {
	return Input{MaskBits: sig.Bits, Strong: sig.Strong, Aux: aux}
}

// Decision is the gate verdict.
type Decision struct {
	Score    float64
	Accepted bool
}

// Score computes popcount*mask + strong*strong + aux*aux.
func (w Weights) Score(in Input) float64 {
	s := float64(in.MaskBits) * w.Mask
	if in.Strong {
		s += w.Strong
	}
	if in.Aux {
		s += w.Aux
	}
	return s
}

// Decide scores in and accepts when the score reaches the threshold.
func (w Weights) Decide(in Input) Decision {
	s := w.Score(in)
	return Decision{Score: s, Accepted: s >= w.Threshold}
}
