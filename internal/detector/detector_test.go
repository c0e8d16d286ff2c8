package detector

import (
	"testing"
	"time"

	"fvg-enginev1/internal/model"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func candle(n int, high, low float64) model.Candle {
	ts := base.Add(time.Duration(n) * time.Minute)
	return model.Candle{
		Symbol:  "BTCUSDT",
		TF:      60,
		TS:      ts,
		CloseTS: ts.Add(time.Minute),
		Open:    low,
		High:    high,
		Low:     low,
		Close:   high,
	}
}

func TestDetect_BullishGap(t *testing.T) {
	// Highs/lows (10,8), (12,11), (15,13): third low 13 clears first high 10.
	gap, ok := Detect(candle(0, 10, 8), candle(1, 12, 11), candle(2, 15, 13))
	if !ok {
		t.Fatal("expected a bullish gap")
	}
	if gap.Direction != model.Bullish {
		t.Fatalf("direction = %s, want bullish", gap.Direction)
	}
	if gap.Lower != 10 || gap.Upper != 13 {
		t.Fatalf("bounds = (%v, %v), want (10, 13)", gap.Lower, gap.Upper)
	}
	if !gap.FormedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("FormedAt = %v, want confirming candle close %v", gap.FormedAt, base.Add(3*time.Minute))
	}
	if gap.State != model.StateActive {
		t.Fatalf("state = %s, want active", gap.State)
	}
}

func TestDetect_BearishGap(t *testing.T) {
	// Third high 7 stays below first low 8: bearish gap (7, 8).
	gap, ok := Detect(candle(0, 10, 8), candle(1, 9, 7.5), candle(2, 7, 5))
	if !ok {
		t.Fatal("expected a bearish gap")
	}
	if gap.Direction != model.Bearish {
		t.Fatalf("direction = %s, want bearish", gap.Direction)
	}
	if gap.Lower != 7 || gap.Upper != 8 {
		t.Fatalf("bounds = (%v, %v), want (7, 8)", gap.Lower, gap.Upper)
	}
}

func TestDetect_NoGapOnOverlap(t *testing.T) {
	// Third candle's low (9.5) does not clear first candle's high (10).
	if _, ok := Detect(candle(0, 10, 8), candle(1, 12, 11), candle(2, 15, 9.5)); ok {
		t.Fatal("overlapping triple must not produce a gap")
	}
}

func TestDetect_NoGapOnTie(t *testing.T) {
	// c3.Low == c1.High: boundary ties are not imbalance.
	if _, ok := Detect(candle(0, 10, 8), candle(1, 12, 11), candle(2, 15, 10)); ok {
		t.Fatal("tied boundary must not produce a gap")
	}
	// Bearish mirror: c3.High == c1.Low.
	if _, ok := Detect(candle(0, 10, 8), candle(1, 9, 7.5), candle(2, 8, 5)); ok {
		t.Fatal("tied bearish boundary must not produce a gap")
	}
}

func TestDetect_MiddleCandleIgnoredForBounds(t *testing.T) {
	// Middle candle range is irrelevant to the bounds; only displacement.
	gap, ok := Detect(candle(0, 10, 8), candle(1, 14, 9), candle(2, 15, 13))
	if !ok {
		t.Fatal("expected a gap")
	}
	if gap.Lower != 10 || gap.Upper != 13 {
		t.Fatalf("bounds = (%v, %v), want (10, 13) regardless of middle range", gap.Lower, gap.Upper)
	}
}
