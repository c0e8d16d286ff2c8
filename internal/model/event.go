package model

import (
	"encoding/json"
	"time"
)

// EventType classifies a gap lifecycle event.
type EventType string

const (
	EventGapDetected     EventType = "gap_detected"
	EventGapPartialMitig EventType = "gap_partial_mitigation"
	EventGapFullMitig    EventType = "gap_full_mitigation"
)

// GapEvent is emitted by the engine whenever a gap is created or changes
// state. Gap is a copy taken after the transition was applied.
type GapEvent struct {
	Type EventType `json:"type"`
	Gap  Gap       `json:"gap"`
	TS   time.Time `json:"ts"` // observation/candle time that caused the event
}

// StreamKey returns the Redis stream key: "fvg:{TF}s:{symbol}".
func (e *GapEvent) StreamKey() string {
	return "fvg:" + Itoa(e.Gap.TF) + "s:" + e.Gap.Symbol
}

// PubSubChannel returns the pubsub channel for live subscribers.
func (e *GapEvent) PubSubChannel() string {
	return "pub:fvg:" + Itoa(e.Gap.TF) + "s:" + e.Gap.Symbol
}

// JSON returns the JSON-encoded event.
func (e *GapEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
