// Package window provides a bounded rolling buffer of closed candles for a
// single (symbol, timeframe) stream. It holds just enough history for
// three-candle pattern matching and defends the stream's time ordering.
package window

import (
	"fvg-enginev1/internal/model"
)

// MinCapacity is the smallest usable window: three candles for detection.
const MinCapacity = 3

// Window is a rolling buffer of the most recent closed candles.
// Not goroutine-safe: each stream owns one window and appends from a single
// goroutine, the same discipline the rest of the pipeline uses.
type Window struct {
	candles []model.Candle
	cap     int

	// OnReplace is called when an append replaces the latest candle
	// (same open time, e.g. a re-sent in-progress update). Optional.
	OnReplace func()
}

// New creates a window with the given capacity. Capacities below MinCapacity
// are raised to MinCapacity.
func New(capacity int) *Window {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Window{
		candles: make([]model.Candle, 0, capacity),
		cap:     capacity,
	}
}

// Append adds a closed candle to the window.
//
// If the candle's open time equals the latest stored candle's open time, the
// stored candle is replaced in place (incomplete-candle redelivery) and
// (false, nil) is returned. A candle strictly older than the latest is
// rejected with model.ErrOutOfOrder. Otherwise the candle is appended, the
// oldest is evicted while size exceeds capacity, and (true, nil) is returned.
func (w *Window) Append(c model.Candle) (appended bool, err error) {
	if n := len(w.candles); n > 0 {
		last := &w.candles[n-1]
		if c.TS.Equal(last.TS) {
			*last = c
			if w.OnReplace != nil {
				w.OnReplace()
			}
			return false, nil
		}
		if c.TS.Before(last.TS) {
			return false, model.ErrOutOfOrder
		}
	}

	w.candles = append(w.candles, c)
	if len(w.candles) > w.cap {
		// Shift instead of re-slice so the backing array never grows.
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:w.cap]
	}
	return true, nil
}

// LatestTriple returns the three most recent closed candles in chronological
// order (c1 oldest, c3 newest). Returns model.ErrInsufficientData while fewer
// than three candles are stored.
func (w *Window) LatestTriple() (c1, c2, c3 model.Candle, err error) {
	n := len(w.candles)
	if n < 3 {
		return model.Candle{}, model.Candle{}, model.Candle{}, model.ErrInsufficientData
	}
	return w.candles[n-3], w.candles[n-2], w.candles[n-1], nil
}

// Len returns the number of stored candles.
func (w *Window) Len() int {
	return len(w.candles)
}

// Latest returns the newest stored candle, or false if the window is empty.
func (w *Window) Latest() (model.Candle, bool) {
	if len(w.candles) == 0 {
		return model.Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}
