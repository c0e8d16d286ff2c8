package model

import (
	"encoding/json"
	"time"
)

// Candle represents a closed OHLCV candle for a single instrument/timeframe.
// TF is the timeframe duration in seconds (e.g., 60 = 1 minute).
// Prices are float64 in the feed's native quote currency.
type Candle struct {
	Symbol  string    `json:"symbol"`
	TF      int       `json:"tf"`       // timeframe in seconds
	TS      time.Time `json:"ts"`       // bucket open time (UTC, TF-aligned)
	CloseTS time.Time `json:"close_ts"` // bucket close time (TS + TF)
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
}

// Key returns a unique key for this candle's stream: "{symbol}:{TF}s".
func (c *Candle) Key() string {
	return c.Symbol + ":" + Itoa(c.TF) + "s"
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{symbol}".
func (c *Candle) StreamKey() string {
	return "candle:" + Itoa(c.TF) + "s:" + c.Symbol
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// StreamKeyFor builds the stream key for a (symbol, tf) pair without a candle.
func StreamKeyFor(symbol string, tf int) string {
	return symbol + ":" + Itoa(tf) + "s"
}
