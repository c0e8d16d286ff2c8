package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"fvg-enginev1/internal/model"
	"fvg-enginev1/internal/stats"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// candle builds a closed 60s BTCUSDT candle opening at base + n minutes.
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

func drainEvents(eventCh <-chan model.GapEvent) []model.GapEvent {
	var out []model.GapEvent
	for {
		select {
		case ev := <-eventCh:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// bullishSetup ingests the canonical gap-forming triple: highs/lows
// (10,8), (12,11), (15,13) leaving a bullish gap [10, 13].
func bullishSetup(t *testing.T, e *Engine) {
	t.Helper()
	for i, c := range []model.Candle{candle(0, 10, 8), candle(1, 12, 11), candle(2, 15, 13)} {
		if err := e.IngestCandle(c); err != nil {
			t.Fatalf("ingest candle %d: %v", i, err)
		}
	}
}

func TestEngine_DetectsGapAndEmitsEvent(t *testing.T) {
	eventCh := make(chan model.GapEvent, 16)
	e := New(10, eventCh)
	bullishSetup(t, e)

	snap := e.Snapshot("BTCUSDT", 60)
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	g := snap[0]
	if g.Direction != model.Bullish || g.Lower != 10 || g.Upper != 13 {
		t.Fatalf("gap = %s (%v, %v), want bullish (10, 13)", g.Direction, g.Lower, g.Upper)
	}
	if g.State != model.StateActive {
		t.Fatalf("state = %s, want active", g.State)
	}
	// The confirming candle closes at minute 3.
	if !g.FormedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("FormedAt = %v", g.FormedAt)
	}

	events := drainEvents(eventCh)
	if len(events) != 1 || events[0].Type != model.EventGapDetected {
		t.Fatalf("events = %+v, want one gap_detected", events)
	}
}

func TestEngine_CandleDrivenLifecycle(t *testing.T) {
	eventCh := make(chan model.GapEvent, 16)
	e := New(10, eventCh)
	bullishSetup(t, e)
	drainEvents(eventCh)

	// Candle with range (11, 9) dips into the gap: partial.
	if err := e.IngestCandle(candle(3, 11, 9)); err != nil {
		t.Fatalf("ingest partial candle: %v", err)
	}
	snap := e.Snapshot("BTCUSDT", 60)
	if snap[0].State != model.StatePartiallyMitigated {
		t.Fatalf("state = %s, want partially_mitigated", snap[0].State)
	}
	startedAt := snap[0].MitigationStartedAt
	if !startedAt.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("started_at = %v, want candle close time", startedAt)
	}

	events := drainEvents(eventCh)
	if len(events) != 1 || events[0].Type != model.EventGapPartialMitig {
		t.Fatalf("events = %+v, want one gap_partial_mitigation", events)
	}

	// Candle with range (14, 9) covers the whole gap: full.
	if err := e.IngestCandle(candle(4, 14, 9)); err != nil {
		t.Fatalf("ingest full candle: %v", err)
	}
	snap = e.Snapshot("BTCUSDT", 60)
	g := snap[0]
	if g.State != model.StateFullyMitigated {
		t.Fatalf("state = %s, want fully_mitigated", g.State)
	}
	if !g.MitigationStartedAt.Equal(startedAt) {
		t.Fatalf("started_at moved from %v to %v", startedAt, g.MitigationStartedAt)
	}
	if !g.MitigationCompletedAt.Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("completed_at = %v", g.MitigationCompletedAt)
	}

	events = drainEvents(eventCh)
	if len(events) != 1 || events[0].Type != model.EventGapFullMitig {
		t.Fatalf("events = %+v, want one gap_full_mitigation", events)
	}
}

func TestEngine_FullCoverSkipsPartialStep(t *testing.T) {
	eventCh := make(chan model.GapEvent, 16)
	e := New(10, eventCh)
	bullishSetup(t, e)
	drainEvents(eventCh)

	// A single covering candle goes straight to fully_mitigated.
	if err := e.IngestCandle(candle(3, 14, 9)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	g := e.Snapshot("BTCUSDT", 60)[0]
	if g.State != model.StateFullyMitigated {
		t.Fatalf("state = %s, want fully_mitigated", g.State)
	}
	if !g.MitigationStartedAt.Equal(g.MitigationCompletedAt) {
		t.Fatalf("timestamps differ: (%v, %v)", g.MitigationStartedAt, g.MitigationCompletedAt)
	}

	events := drainEvents(eventCh)
	if len(events) != 1 || events[0].Type != model.EventGapFullMitig {
		t.Fatalf("events = %+v, want a single gap_full_mitigation", events)
	}
}

func TestEngine_TickObservationLifecycle(t *testing.T) {
	eventCh := make(chan model.GapEvent, 16)
	e := New(10, eventCh)
	bullishSetup(t, e)
	drainEvents(eventCh)

	// Tick inside the gap after formation: partial.
	tick := model.TickObservation("BTCUSDT", 60, 12.5, base.Add(3*time.Minute+time.Second))
	if err := e.IngestObservation(tick); err != nil {
		t.Fatalf("ingest tick: %v", err)
	}
	if got := e.Snapshot("BTCUSDT", 60)[0].State; got != model.StatePartiallyMitigated {
		t.Fatalf("state = %s, want partially_mitigated", got)
	}

	// Second tick inside the gap: no event, no timestamp movement.
	first := e.Snapshot("BTCUSDT", 60)[0].MitigationStartedAt
	drainEvents(eventCh)
	e.IngestObservation(model.TickObservation("BTCUSDT", 60, 11, base.Add(3*time.Minute+2*time.Second)))
	if events := drainEvents(eventCh); len(events) != 0 {
		t.Fatalf("repeat partial emitted %d events", len(events))
	}
	if got := e.Snapshot("BTCUSDT", 60)[0].MitigationStartedAt; !got.Equal(first) {
		t.Fatalf("started_at moved to %v", got)
	}
}

func TestEngine_DuplicateCandleIsIdempotent(t *testing.T) {
	eventCh := make(chan model.GapEvent, 16)
	e := New(10, eventCh)
	bullishSetup(t, e)
	drainEvents(eventCh)
	before := e.Snapshot("BTCUSDT", 60)

	// Redeliver the confirming candle: replace-in-place, nothing evaluated.
	if err := e.IngestCandle(candle(2, 15, 13)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	after := e.Snapshot("BTCUSDT", 60)
	if len(after) != len(before) {
		t.Fatalf("redelivery changed gap count: %d -> %d", len(before), len(after))
	}
	if after[0].State != before[0].State {
		t.Fatalf("redelivery changed state: %s -> %s", before[0].State, after[0].State)
	}
	if events := drainEvents(eventCh); len(events) != 0 {
		t.Fatalf("redelivery emitted %d events", len(events))
	}
}

func TestEngine_RejectsOutOfOrderInput(t *testing.T) {
	e := New(10, nil)
	var rejected []string
	e.OnOutOfOrder = func(kind string) { rejected = append(rejected, kind) }
	bullishSetup(t, e)

	if err := e.IngestCandle(candle(1, 12, 11)); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for old candle, got %v", err)
	}

	// Observation older than the stream's last (the candle close at min 3).
	old := model.TickObservation("BTCUSDT", 60, 12, base.Add(2*time.Minute))
	if err := e.IngestObservation(old); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for old observation, got %v", err)
	}

	if len(rejected) != 2 || rejected[0] != "candle" || rejected[1] != "observation" {
		t.Fatalf("hook calls = %v", rejected)
	}
}

func TestEngine_StreamsAreIndependent(t *testing.T) {
	e := New(10, nil)
	bullishSetup(t, e)

	// Same prices on another symbol form an independent gap.
	for i, c := range []model.Candle{candle(0, 10, 8), candle(1, 12, 11), candle(2, 15, 13)} {
		c.Symbol = "ETHUSDT"
		if err := e.IngestCandle(c); err != nil {
			t.Fatalf("eth candle %d: %v", i, err)
		}
	}

	// Mitigating one stream leaves the other untouched.
	e.IngestObservation(model.TickObservation("ETHUSDT", 60, 12, base.Add(4*time.Minute)))
	if got := e.Snapshot("ETHUSDT", 60)[0].State; got != model.StatePartiallyMitigated {
		t.Fatalf("eth state = %s", got)
	}
	if got := e.Snapshot("BTCUSDT", 60)[0].State; got != model.StateActive {
		t.Fatalf("btc state = %s, want active", got)
	}
}

func TestEngine_Stats(t *testing.T) {
	e := New(10, nil)
	bullishSetup(t, e)
	e.IngestCandle(candle(3, 14, 9)) // fully mitigates the gap

	res := e.Stats("BTCUSDT", 60, stats.Filter{})
	if res.TotalGaps != 1 || res.MitigatedGaps != 1 || res.MitigationRate != 1 {
		t.Fatalf("stats = %+v", res)
	}
	if !res.HasMitigationTime || res.AvgTimeToMitigation != time.Minute {
		t.Fatalf("ttm = %v has=%v, want 1m", res.AvgTimeToMitigation, res.HasMitigationTime)
	}
}

func TestEngine_RunConsumesChannels(t *testing.T) {
	eventCh := make(chan model.GapEvent, 16)
	e := New(10, eventCh)

	candleCh := make(chan model.Candle, 8)
	obsCh := make(chan model.Observation, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx, candleCh, obsCh)
		close(done)
	}()

	candleCh <- candle(0, 10, 8)
	candleCh <- candle(1, 12, 11)
	candleCh <- candle(2, 15, 13)
	obsCh <- model.TickObservation("BTCUSDT", 60, 12, base.Add(3*time.Minute+time.Second))

	deadline := time.After(2 * time.Second)
	for {
		snap := e.Snapshot("BTCUSDT", 60)
		if len(snap) == 1 && snap[0].State == model.StatePartiallyMitigated {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pipeline did not converge: %+v", snap)
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(candleCh)
	close(obsCh)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after channels closed")
	}
}
