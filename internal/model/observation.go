package model

import "time"

// Observation is a price range observed at a point in time, used for
// mitigation checking. A live tick collapses to High == Low; a closed
// candle contributes its full high/low range stamped with its close time.
type Observation struct {
	Symbol string    `json:"symbol"`
	TF     int       `json:"tf"` // timeframe in seconds
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	TS     time.Time `json:"ts"` // UTC observation time
}

// TickObservation builds an observation from a single traded price.
func TickObservation(symbol string, tf int, price float64, ts time.Time) Observation {
	return Observation{Symbol: symbol, TF: tf, High: price, Low: price, TS: ts}
}

// CandleObservation builds an observation from a closed candle's range.
// The observation time is the candle's close time, so a candle can never
// mitigate a gap whose formation it confirmed.
func CandleObservation(c Candle) Observation {
	return Observation{Symbol: c.Symbol, TF: c.TF, High: c.High, Low: c.Low, TS: c.CloseTS}
}

// Key returns the stream key "{symbol}:{TF}s".
func (o *Observation) Key() string {
	return o.Symbol + ":" + Itoa(o.TF) + "s"
}
