package window

import (
	"errors"
	"testing"
	"time"

	"fvg-enginev1/internal/model"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// candleAt builds a closed 60s candle whose bucket opens at base + n minutes.
func candleAt(n int, high, low float64) model.Candle {
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

func TestWindow_AppendAndTriple(t *testing.T) {
	w := New(10)

	if _, _, _, err := w.LatestTriple(); !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData on empty window, got %v", err)
	}

	for i := 0; i < 3; i++ {
		appended, err := w.Append(candleAt(i, 100+float64(i), 90+float64(i)))
		if err != nil || !appended {
			t.Fatalf("append %d: appended=%v err=%v", i, appended, err)
		}
	}

	c1, c2, c3, err := w.LatestTriple()
	if err != nil {
		t.Fatalf("triple: %v", err)
	}
	if !c1.TS.Equal(base) || !c2.TS.Equal(base.Add(time.Minute)) || !c3.TS.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("triple out of order: %v %v %v", c1.TS, c2.TS, c3.TS)
	}
}

func TestWindow_RejectsOutOfOrder(t *testing.T) {
	w := New(10)
	w.Append(candleAt(2, 100, 90))

	appended, err := w.Append(candleAt(1, 100, 90))
	if !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if appended {
		t.Fatal("out-of-order candle must not be appended")
	}
	if w.Len() != 1 {
		t.Fatalf("window mutated by rejected candle: len=%d", w.Len())
	}
}

func TestWindow_ReplacesEqualTimestamp(t *testing.T) {
	w := New(10)
	replaced := 0
	w.OnReplace = func() { replaced++ }

	w.Append(candleAt(0, 100, 90))
	revised := candleAt(0, 105, 85)
	appended, err := w.Append(revised)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if appended {
		t.Fatal("equal-timestamp append must report appended=false")
	}
	if replaced != 1 {
		t.Fatalf("OnReplace called %d times, want 1", replaced)
	}

	latest, ok := w.Latest()
	if !ok || latest.High != 105 || latest.Low != 85 {
		t.Fatalf("latest not replaced: %+v", latest)
	}
	if w.Len() != 1 {
		t.Fatalf("replace grew the window: len=%d", w.Len())
	}
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := New(3)
	for i := 0; i < 5; i++ {
		w.Append(candleAt(i, 100, 90))
	}

	if w.Len() != 3 {
		t.Fatalf("expected len=3, got %d", w.Len())
	}
	c1, _, c3, err := w.LatestTriple()
	if err != nil {
		t.Fatalf("triple: %v", err)
	}
	if !c1.TS.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("oldest not evicted: c1.TS=%v", c1.TS)
	}
	if !c3.TS.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("newest wrong: c3.TS=%v", c3.TS)
	}
}

func TestWindow_MinCapacity(t *testing.T) {
	w := New(1)
	for i := 0; i < 3; i++ {
		w.Append(candleAt(i, 100, 90))
	}
	if _, _, _, err := w.LatestTriple(); err != nil {
		t.Fatalf("capacity must be raised to hold a triple: %v", err)
	}
}
