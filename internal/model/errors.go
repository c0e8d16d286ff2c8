package model

import "errors"

// Core error kinds. None of these are fatal: the caller reports them and the
// engine stays consistent.
var (
	// ErrOutOfOrder is returned when a candle or observation is older than
	// the stream's current position.
	ErrOutOfOrder = errors.New("out-of-order input")

	// ErrDuplicateGap is returned when an insert collides with an existing
	// gap identity. The insert is a no-op.
	ErrDuplicateGap = errors.New("duplicate gap")

	// ErrInsufficientData is returned when fewer than three closed candles
	// are available for detection.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUnknownGap is returned when a mitigation is applied against a gap
	// id not present in the registry. The call is a no-op.
	ErrUnknownGap = errors.New("unknown gap")

	// ErrDegenerateGap is returned by NewGap for a zero-or-negative interval.
	ErrDegenerateGap = errors.New("degenerate gap interval")
)
