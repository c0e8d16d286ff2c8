package stats

import (
	"testing"
	"time"

	"fvg-enginev1/internal/model"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func gap(t *testing.T, dir model.Direction, upper, lower float64, offset time.Duration) model.Gap {
	t.Helper()
	g, err := model.NewGap("BTCUSDT", 60, dir, upper, lower, base.Add(offset))
	if err != nil {
		t.Fatalf("gap fixture: %v", err)
	}
	return g
}

func mitigated(g model.Gap, after time.Duration) model.Gap {
	g.State = model.StateFullyMitigated
	g.MitigationStartedAt = g.FormedAt.Add(after)
	g.MitigationCompletedAt = g.FormedAt.Add(after)
	return g
}

func TestCompute_EmptySnapshot(t *testing.T) {
	res := Compute(nil, Filter{})
	if res.TotalGaps != 0 || res.MitigationRate != 0 {
		t.Fatalf("empty set: %+v", res)
	}
	if res.HasMitigationTime {
		t.Fatal("empty set reports mitigation time")
	}
}

func TestCompute_CountsAndRate(t *testing.T) {
	snap := []model.Gap{
		gap(t, model.Bullish, 13, 10, 0),                                      // active, size 3
		mitigated(gap(t, model.Bullish, 20, 19, time.Minute), 10*time.Minute), // size 1
		mitigated(gap(t, model.Bearish, 8, 6, 2*time.Minute), 20*time.Minute), // size 2
		gap(t, model.Bearish, 5, 4.5, 3*time.Minute),                          // active, size 0.5
	}

	res := Compute(snap, Filter{})
	if res.TotalGaps != 4 || res.ActiveGaps != 2 || res.MitigatedGaps != 2 {
		t.Fatalf("counts = (%d, %d, %d), want (4, 2, 2)", res.TotalGaps, res.ActiveGaps, res.MitigatedGaps)
	}
	if res.MitigationRate != 0.5 {
		t.Fatalf("rate = %v, want 0.5", res.MitigationRate)
	}
	if want := (3.0 + 1 + 2 + 0.5) / 4; res.AvgSize != want {
		t.Fatalf("avg size = %v, want %v", res.AvgSize, want)
	}
	if !res.HasMitigationTime {
		t.Fatal("expected mitigation time data")
	}
	if want := 15 * time.Minute; res.AvgTimeToMitigation != want {
		t.Fatalf("avg ttm = %v, want %v", res.AvgTimeToMitigation, want)
	}
}

func TestCompute_DirectionBreakdown(t *testing.T) {
	snap := []model.Gap{
		gap(t, model.Bullish, 13, 10, 0),
		mitigated(gap(t, model.Bullish, 20, 19, time.Minute), time.Minute),
		gap(t, model.Bearish, 8, 6, 2*time.Minute),
	}

	res := Compute(snap, Filter{})
	if res.Bullish.Count != 2 || res.Bullish.Mitigated != 1 {
		t.Fatalf("bullish = %+v", res.Bullish)
	}
	if res.Bearish.Count != 1 || res.Bearish.Mitigated != 0 {
		t.Fatalf("bearish = %+v", res.Bearish)
	}
	if want := (3.0 + 1.0) / 2; res.Bullish.AvgSize != want {
		t.Fatalf("bullish avg size = %v, want %v", res.Bullish.AvgSize, want)
	}
	if want := 7.0; res.Bearish.AvgMid != want {
		t.Fatalf("bearish avg mid = %v, want %v", res.Bearish.AvgMid, want)
	}
}

func TestCompute_Filters(t *testing.T) {
	snap := []model.Gap{
		gap(t, model.Bullish, 13, 10, 0),
		gap(t, model.Bearish, 8, 6, 10*time.Minute),
		gap(t, model.Bullish, 20, 18, 20*time.Minute),
	}

	dir := model.Bullish
	res := Compute(snap, Filter{Direction: &dir})
	if res.TotalGaps != 2 || res.Bearish.Count != 0 {
		t.Fatalf("direction filter: %+v", res)
	}

	res = Compute(snap, Filter{From: base.Add(5 * time.Minute)})
	if res.TotalGaps != 2 {
		t.Fatalf("from filter: total = %d, want 2", res.TotalGaps)
	}

	res = Compute(snap, Filter{Until: base.Add(15 * time.Minute)})
	if res.TotalGaps != 2 {
		t.Fatalf("until filter: total = %d, want 2", res.TotalGaps)
	}

	res = Compute(snap, Filter{From: base.Add(5 * time.Minute), Until: base.Add(15 * time.Minute)})
	if res.TotalGaps != 1 || res.Bearish.Count != 1 {
		t.Fatalf("range filter: %+v", res)
	}
}
