package model

import (
	"encoding/json"
	"time"
)

// Direction classifies which side of the imbalance a gap sits on.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// GapState is the mitigation lifecycle state of a gap.
// Transitions: active → partially_mitigated → fully_mitigated, or
// active → fully_mitigated directly. fully_mitigated is terminal.
type GapState string

const (
	StateActive             GapState = "active"
	StatePartiallyMitigated GapState = "partially_mitigated"
	StateFullyMitigated     GapState = "fully_mitigated"
)

// Gap is a detected fair value gap. Direction, bounds and formation time are
// immutable after creation; only State and the mitigation timestamps mutate,
// and only the registry mutates them.
type Gap struct {
	Symbol    string    `json:"symbol"`
	TF        int       `json:"tf"` // timeframe in seconds
	Direction Direction `json:"direction"`
	Upper     float64   `json:"upper"` // always > Lower
	Lower     float64   `json:"lower"`
	FormedAt  time.Time `json:"formed_at"` // close time of the confirming candle

	State                 GapState  `json:"state"`
	MitigationStartedAt   time.Time `json:"mitigation_started_at,omitempty"`
	MitigationCompletedAt time.Time `json:"mitigation_completed_at,omitempty"`
}

// NewGap validates and constructs an active gap. A zero-or-negative interval
// is not a gap and yields ErrDegenerateGap.
func NewGap(symbol string, tf int, dir Direction, upper, lower float64, formedAt time.Time) (Gap, error) {
	if upper <= lower {
		return Gap{}, ErrDegenerateGap
	}
	return Gap{
		Symbol:    symbol,
		TF:        tf,
		Direction: dir,
		Upper:     upper,
		Lower:     lower,
		FormedAt:  formedAt,
		State:     StateActive,
	}, nil
}

// ID returns the gap's identity: "{symbol}:{TF}s:{direction}:{formedAtUnix}".
// Two gaps with equal identity are the same gap; the registry enforces this.
func (g *Gap) ID() string {
	return g.Symbol + ":" + Itoa(g.TF) + "s:" + string(g.Direction) + ":" + Itoa(int(g.FormedAt.Unix()))
}

// Key returns the stream key "{symbol}:{TF}s".
func (g *Gap) Key() string {
	return g.Symbol + ":" + Itoa(g.TF) + "s"
}

// Size returns the gap interval width (Upper − Lower), always > 0.
func (g *Gap) Size() float64 {
	return g.Upper - g.Lower
}

// Mid returns the middle price of the gap interval.
func (g *Gap) Mid() float64 {
	return (g.Upper + g.Lower) / 2
}

// Terminal reports whether the gap can no longer transition.
func (g *Gap) Terminal() bool {
	return g.State == StateFullyMitigated
}

// TimeToMitigation returns the duration from formation to full mitigation.
// The second return is false while the gap is not fully mitigated.
func (g *Gap) TimeToMitigation() (time.Duration, bool) {
	if g.State != StateFullyMitigated || g.MitigationCompletedAt.IsZero() {
		return 0, false
	}
	return g.MitigationCompletedAt.Sub(g.FormedAt), true
}

// JSON returns the JSON-encoded gap.
func (g *Gap) JSON() []byte {
	b, _ := json.Marshal(g)
	return b
}
