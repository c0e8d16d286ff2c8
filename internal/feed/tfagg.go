package feed

import (
	"context"
	"log"
	"time"

	"fvg-enginev1/internal/model"
)

// aggState holds the forming candle for one (symbol, TF) bucket.
type aggState struct {
	bucket int64 // bucket start (Unix seconds), ts - ts%tf
	candle model.Candle
}

// Aggregator resamples trades into closed TF candles for timeframes Binance
// does not stream natively. Only finalized candles are emitted; the gap
// pipeline consumes closed candles exclusively. Runs in a single goroutine.
type Aggregator struct {
	tfs []int // TFs in seconds

	// Per-TF per-symbol forming state: states[tfIdx][symbol].
	states []map[string]*aggState

	flushInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
}

// NewAggregator creates an aggregator for the given TFs (seconds).
func NewAggregator(tfs []int) *Aggregator {
	states := make([]map[string]*aggState, len(tfs))
	for i := range states {
		states[i] = make(map[string]*aggState, 8)
	}
	return &Aggregator{
		tfs:           tfs,
		states:        states,
		flushInterval: 250 * time.Millisecond, // bucket rollover check frequency
	}
}

// Run consumes ticks and sends finalized TF candles to candleCh.
// Blocks until ctx is cancelled or tickCh is closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.flushAll(candleCh)
				return
			}
			a.processTick(tick, candleCh)

		case <-ticker.C:
			// Emit candles whose bucket has fully elapsed even if no new
			// tick arrived to roll them over.
			a.flushElapsed(candleCh)
		}
	}
}

// processTick merges one trade into every enabled TF's forming candle.
func (a *Aggregator) processTick(tick Tick, candleCh chan<- model.Candle) {
	ts := tick.TS.Unix()

	for i, tf := range a.tfs {
		tf64 := int64(tf)
		bucket := ts - (ts % tf64)

		st, exists := a.states[i][tick.Symbol]

		if exists && bucket < st.bucket {
			// Late trade for an already-rolled bucket, drop it.
			if a.OnDroppedTick != nil {
				a.OnDroppedTick()
			}
			continue
		}

		if exists && bucket > st.bucket {
			// New bucket, finalize the old candle first.
			a.emit(st.candle, candleCh)
			exists = false
		}

		if !exists {
			open := time.Unix(bucket, 0).UTC()
			a.states[i][tick.Symbol] = &aggState{
				bucket: bucket,
				candle: model.Candle{
					Symbol:  tick.Symbol,
					TF:      tf,
					TS:      open,
					CloseTS: open.Add(time.Duration(tf) * time.Second),
					Open:    tick.Price,
					High:    tick.Price,
					Low:     tick.Price,
					Close:   tick.Price,
					Volume:  tick.Qty,
				},
			}
			continue
		}

		c := &st.candle
		if tick.Price > c.High {
			c.High = tick.Price
		}
		if tick.Price < c.Low {
			c.Low = tick.Price
		}
		c.Close = tick.Price
		c.Volume += tick.Qty
	}
}

// flushElapsed emits candles for buckets strictly in the past.
func (a *Aggregator) flushElapsed(candleCh chan<- model.Candle) {
	now := time.Now().Unix()

	for i, tf := range a.tfs {
		for sym, st := range a.states[i] {
			if st.bucket+int64(tf) <= now {
				a.emit(st.candle, candleCh)
				delete(a.states[i], sym)
			}
		}
	}
}

// flushAll emits every forming candle regardless of bucket.
func (a *Aggregator) flushAll(candleCh chan<- model.Candle) {
	for i := range a.tfs {
		for sym, st := range a.states[i] {
			a.emit(st.candle, candleCh)
			delete(a.states[i], sym)
		}
	}
}

// emit sends a finalized candle non-blocking to avoid deadlocks.
func (a *Aggregator) emit(c model.Candle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- c:
	default:
		log.Printf("[tfagg] candleCh full, dropping candle %s ts=%v", c.Key(), c.TS)
	}
}

// TFs returns the aggregated timeframes.
func (a *Aggregator) TFs() []int {
	return a.tfs
}
