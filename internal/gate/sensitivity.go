package gate

import (
	"math"
)

// Entry is one labelled observation for the threshold sweep.
type Entry struct {
	Mint     string `json:"mint,omitempty"`
	MaskBits int    `json:"maskBits"`
	Strong   bool   `json:"strong"`
	Aux      bool   `json:"aux"`
}

// ThresholdStat is the outcome of accepting entries at one threshold.
type ThresholdStat struct {
	Threshold       float64 `json:"threshold"`
	AcceptedCount   int     `json:"acceptedCount"`
	AcceptedAux     int     `json:"acceptedAux"`
	AcceptedStrong  int     `json:"acceptedStrong"`
	AvgMaskBits     float64 `json:"avgMaskBits"`
	PrecisionAux    float64 `json:"precisionAux"`
	PrecisionStrong float64 `json:"precisionStrong"`
}

// Report is the full sweep.
type Report struct {
	Weights  Weights         `json:"weights"`
	Entries  int             `json:"entries"`
	MaxScore float64         `json:"maxScore"`
	Stats    []ThresholdStat `json:"stats"`
}

// Sweep scores every entry and reports acceptance at each integer threshold
// from 0 to max(10, ceil(maxScore)+5). The Threshold field of w is ignored.
func Sweep(entries []Entry, w Weights) Report {
	scores := make([]float64, len(entries))
	maxScore := 0.0
	for i, e := range entries {
		scores[i] = w.Score(Input{MaskBits: e.MaskBits, Strong: e.Strong, Aux: e.Aux})
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}
	top := int(math.Ceil(maxScore)) + 5
	if top < 10 {
		top = 10
	}

	rep := Report{Weights: w, Entries: len(entries), MaxScore: maxScore}
	for t := 0; t <= top; t++ {
		st := ThresholdStat{Threshold: float64(t)}
		bits := 0
		for i, e := range entries {
			if scores[i] < st.Threshold {
				continue
			}
			st.AcceptedCount++
			bits += e.MaskBits
			if e.Aux {
				st.AcceptedAux++
			}
			if e.Strong {
				st.AcceptedStrong++
			}
		}
		if st.AcceptedCount > 0 {
			n := float64(st.AcceptedCount)
			st.AvgMaskBits = float64(bits) / n
			st.PrecisionAux = float64(st.AcceptedAux) / n
			st.PrecisionStrong = float64(st.AcceptedStrong) / n
		}
		rep.Stats = append(rep.Stats, st)
	}
	return rep
}
