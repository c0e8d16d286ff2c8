// Package engine wires the gap detection and mitigation lifecycle together:
// candles flow through per-stream windows into the detector, detected gaps
// land in the shared registry, and every price observation is evaluated
// against the stream's active gaps. The engine is the process-internal
// surface the data feed and the display layer talk to.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"fvg-enginev1/internal/detector"
	"fvg-enginev1/internal/mitigation"
	"fvg-enginev1/internal/model"
	"fvg-enginev1/internal/registry"
	"fvg-enginev1/internal/stats"
	"fvg-enginev1/internal/window"
)

// streamState holds the single-writer state for one (symbol, TF) stream.
// The window is only touched by the candle path; lastObsTS orders the
// observation path, which runs on its own goroutine.
type streamState struct {
	win *window.Window

	obsMu     sync.Mutex
	lastObsTS time.Time
}

// Engine owns one CandleWindow per stream and the shared GapRegistry.
// IngestCandle and IngestObservation are safe to call from separate
// goroutines; per stream, each of the two must come from a single producer
// (the feed's contract), which preserves arrival-order processing.
type Engine struct {
	reg       *registry.Registry
	windowCap int
	eventCh   chan<- model.GapEvent

	mu      sync.RWMutex
	streams map[string]*streamState

	// Metrics hooks (optional, set externally).
	OnOutOfOrder     func(kind string) // kind: "candle" or "observation"
	OnDuplicateGap   func()
	OnCandleDur      func(d time.Duration)
	OnObservationDur func(d time.Duration)
}

// New creates an engine. Detected-gap and mitigation events are sent to
// eventCh non-blocking; a nil eventCh disables event emission (tests).
func New(windowCap int, eventCh chan<- model.GapEvent) *Engine {
	return &Engine{
		reg:       registry.New(),
		windowCap: windowCap,
		eventCh:   eventCh,
		streams:   make(map[string]*streamState, 8),
	}
}

// Registry exposes the underlying registry for snapshot consumers.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// IngestCandle appends a closed candle to its stream's window, runs gap
// detection on the newest triple, and applies the candle's own range as a
// mitigation observation against older gaps.
//
// A redelivered candle (same open time as the latest) replaces in place and
// is otherwise ignored, so a duplicate delivery can neither create a second
// gap nor double-evaluate mitigation. A candle older than the stream's
// latest is rejected with model.ErrOutOfOrder.
func (e *Engine) IngestCandle(c model.Candle) error {
	start := time.Now()
	st := e.stream(c.Key())

	appended, err := st.win.Append(c)
	if err != nil {
		if e.OnOutOfOrder != nil {
			e.OnOutOfOrder("candle")
		}
		return err
	}
	if !appended {
		// In-place replacement: idempotent redelivery, nothing to evaluate.
		return nil
	}

	if c1, c2, c3, terr := st.win.LatestTriple(); terr == nil {
		if gap, ok := detector.Detect(c1, c2, c3); ok {
			switch ierr := e.reg.Insert(gap); ierr {
			case nil:
				e.emit(model.GapEvent{Type: model.EventGapDetected, Gap: gap, TS: gap.FormedAt})
			case model.ErrDuplicateGap:
				if e.OnDuplicateGap != nil {
					e.OnDuplicateGap()
				}
			}
		}
	}

	// The candle close is itself a price observation for older gaps. The
	// gap this candle just confirmed has FormedAt == c.CloseTS and is not
	// eligible (strictly-after rule), so it cannot self-mitigate.
	e.applyObservation(st, model.CandleObservation(c))

	if e.OnCandleDur != nil {
		e.OnCandleDur(time.Since(start))
	}
	return nil
}

// IngestObservation evaluates a live tick (or candle-close range) against
// all currently active gaps of its stream. Observations older than the
// stream's latest observation are rejected with model.ErrOutOfOrder, so a
// late tick can never back-date mitigation_started_at.
func (e *Engine) IngestObservation(o model.Observation) error {
	start := time.Now()
	st := e.stream(o.Key())
	err := e.applyObservation(st, o)
	if e.OnObservationDur != nil {
		e.OnObservationDur(time.Since(start))
	}
	return err
}

// applyObservation enforces per-stream observation ordering, then walks the
// active gap set. Each state change is written back and emitted.
func (e *Engine) applyObservation(st *streamState, o model.Observation) error {
	st.obsMu.Lock()
	if o.TS.Before(st.lastObsTS) {
		st.obsMu.Unlock()
		if e.OnOutOfOrder != nil {
			e.OnOutOfOrder("observation")
		}
		return model.ErrOutOfOrder
	}
	st.lastObsTS = o.TS

	for _, g := range e.reg.ActiveGaps(o.Symbol, o.TF) {
		v := mitigation.Evaluate(o, g)
		if v == mitigation.NoChange {
			continue
		}
		updated, changed, err := e.reg.ApplyMitigation(g.ID(), v, o.TS)
		if err != nil || !changed {
			// ErrUnknownGap is a tolerated no-op; an unchanged gap
			// (repeat partial hit, lost race to terminal) emits nothing.
			continue
		}
		typ := model.EventGapPartialMitig
		if updated.State == model.StateFullyMitigated {
			typ = model.EventGapFullMitig
		}
		e.emit(model.GapEvent{Type: typ, Gap: updated, TS: o.TS})
	}
	st.obsMu.Unlock()
	return nil
}

// Snapshot returns a read-consistent ordered copy of all gaps for a stream.
func (e *Engine) Snapshot(symbol string, tf int) []model.Gap {
	return e.reg.Snapshot(symbol, tf)
}

// Stats computes aggregate metrics over the stream's current snapshot.
func (e *Engine) Stats(symbol string, tf int, f stats.Filter) stats.Result {
	return stats.Compute(e.reg.Snapshot(symbol, tf), f)
}

// Run consumes candles and observations until ctx is done or both channels
// are closed. Ingest errors are already reported through hooks; they are
// logged at a low volume here and never stop the loop.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle, obsCh <-chan model.Observation) {
	for candleCh != nil || obsCh != nil {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				candleCh = nil
				continue
			}
			if err := e.IngestCandle(c); err != nil {
				log.Printf("[engine] candle %s ts=%v rejected: %v", c.Key(), c.TS, err)
			}
		case o, ok := <-obsCh:
			if !ok {
				obsCh = nil
				continue
			}
			if err := e.IngestObservation(o); err != nil {
				log.Printf("[engine] observation %s ts=%v rejected: %v", o.Key(), o.TS, err)
			}
		}
	}
}

// stream returns (creating if needed) the state for a stream key.
func (e *Engine) stream(key string) *streamState {
	e.mu.RLock()
	st, ok := e.streams[key]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.streams[key]; ok {
		return st
	}
	st = &streamState{win: window.New(e.windowCap)}
	e.streams[key] = st
	return st
}

// emit sends an event non-blocking to avoid stalling the ingest hot path.
func (e *Engine) emit(ev model.GapEvent) {
	if e.eventCh == nil {
		return
	}
	select {
	case e.eventCh <- ev:
	default:
		log.Printf("[engine] eventCh full, dropping %s for %s", ev.Type, ev.Gap.ID())
	}
}
