// Package stats derives summary metrics from a registry snapshot.
// Pure and deterministic: the same snapshot and filter always produce the
// same result, and nothing here mutates the snapshot.
package stats

import (
	"encoding/json"
	"time"

	"fvg-enginev1/internal/model"
)

// Filter restricts the gap set a computation runs over. Zero-value fields
// are ignored: a zero From/Until means unbounded, a nil Direction means both.
type Filter struct {
	From      time.Time
	Until     time.Time
	Direction *model.Direction
}

// DirectionStats is the per-direction breakdown.
type DirectionStats struct {
	Count     int     `json:"count"`
	Mitigated int     `json:"mitigated"`
	AvgSize   float64 `json:"avg_size"`
	AvgMid    float64 `json:"avg_mid"`
}

// Result holds the aggregate metrics for a filtered snapshot.
// AvgTimeToMitigation is only meaningful when HasMitigationTime is true:
// when no gap in the set is fully mitigated there is no data to average.
type Result struct {
	TotalGaps     int `json:"total_gaps"`
	ActiveGaps    int `json:"active_gaps"`
	MitigatedGaps int `json:"mitigated_gaps"`

	// MitigationRate = MitigatedGaps / TotalGaps, in [0,1]; 0 for an empty set.
	MitigationRate float64 `json:"mitigation_rate"`
	AvgSize        float64 `json:"avg_size"`

	AvgTimeToMitigation time.Duration `json:"avg_time_to_mitigation_ns"`
	HasMitigationTime   bool          `json:"has_mitigation_time"`

	Bullish DirectionStats `json:"bullish"`
	Bearish DirectionStats `json:"bearish"`
}

// JSON returns the JSON-encoded result.
func (r *Result) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Compute aggregates a snapshot under the given filter.
func Compute(snapshot []model.Gap, f Filter) Result {
	var res Result

	var sizeSum float64
	var mitigSum time.Duration
	var bullSize, bullMid, bearSize, bearMid float64

	for i := range snapshot {
		g := &snapshot[i]
		if !matches(g, f) {
			continue
		}

		res.TotalGaps++
		sizeSum += g.Size()

		switch g.Direction {
		case model.Bullish:
			res.Bullish.Count++
			bullSize += g.Size()
			bullMid += g.Mid()
		case model.Bearish:
			res.Bearish.Count++
			bearSize += g.Size()
			bearMid += g.Mid()
		}

		if g.Terminal() {
			res.MitigatedGaps++
			if g.Direction == model.Bullish {
				res.Bullish.Mitigated++
			} else {
				res.Bearish.Mitigated++
			}
			if ttm, ok := g.TimeToMitigation(); ok {
				mitigSum += ttm
			}
		} else {
			res.ActiveGaps++
		}
	}

	if res.TotalGaps > 0 {
		res.MitigationRate = float64(res.MitigatedGaps) / float64(res.TotalGaps)
		res.AvgSize = sizeSum / float64(res.TotalGaps)
	}
	if res.MitigatedGaps > 0 {
		res.AvgTimeToMitigation = mitigSum / time.Duration(res.MitigatedGaps)
		res.HasMitigationTime = true
	}
	if res.Bullish.Count > 0 {
		res.Bullish.AvgSize = bullSize / float64(res.Bullish.Count)
		res.Bullish.AvgMid = bullMid / float64(res.Bullish.Count)
	}
	if res.Bearish.Count > 0 {
		res.Bearish.AvgSize = bearSize / float64(res.Bearish.Count)
		res.Bearish.AvgMid = bearMid / float64(res.Bearish.Count)
	}

	return res
}

// matches applies the time-range and direction filter to one gap.
func matches(g *model.Gap, f Filter) bool {
	if f.Direction != nil && g.Direction != *f.Direction {
		return false
	}
	if !f.From.IsZero() && g.FormedAt.Before(f.From) {
		return false
	}
	if !f.Until.IsZero() && g.FormedAt.After(f.Until) {
		return false
	}
	return true
}
