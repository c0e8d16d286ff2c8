// Package mitigation decides whether a price observation mitigates a gap.
// The test is a pure geometric overlap of the observation's range against the
// gap interval. Direction never enters into it.
package mitigation

import (
	"fvg-enginev1/internal/model"
)

// Verdict is the outcome of evaluating one observation against one gap.
type Verdict int

const (
	// NoChange: the observation does not touch the gap, or is not eligible.
	NoChange Verdict = iota

	// Partial: the observation's range intersects the gap interval without
	// covering it entirely.
	Partial

	// Full: the observation's range covers the whole gap interval, meaning price
	// traded through the entire gap. A full cover transitions directly,
	// without a synthesized partial step.
	Full
)

func (v Verdict) String() string {
	switch v {
	case Partial:
		return "partial"
	case Full:
		return "full"
	default:
		return "no_change"
	}
}

// Evaluate returns the verdict for observation obs against gap g.
//
// Only observations strictly after the gap's formation time are eligible:
// replays of candles at or before FormedAt (including the confirming candle
// itself) never mitigate. Boundary touches count as intersection: the
// interval is closed on both ends.
func Evaluate(obs model.Observation, g model.Gap) Verdict {
	if !obs.TS.After(g.FormedAt) {
		return NoChange
	}

	// No overlap with [Lower, Upper].
	if obs.High < g.Lower || obs.Low > g.Upper {
		return NoChange
	}

	if obs.Low <= g.Lower && obs.High >= g.Upper {
		return Full
	}
	return Partial
}
