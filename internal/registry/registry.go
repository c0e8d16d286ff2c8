// Package registry owns the set of gaps (active and mitigated) across all
// instrument/timeframe streams. It is the single point of contention in the
// pipeline: all mutations and reads are serialized through one RWMutex so a
// reader can never observe a gap mid-transition.
package registry

import (
	"sync"
	"time"

	"fvg-enginev1/internal/mitigation"
	"fvg-enginev1/internal/model"
)

// Registry is a thread-safe gap store. Gaps are never deleted; a fully
// mitigated gap stays for historical statistics. Retention pruning is the
// caller's concern.
type Registry struct {
	mu sync.RWMutex

	// Per-stream insertion-ordered gaps. Key: "{symbol}:{TF}s".
	streams map[string][]*model.Gap

	// Identity index across all streams for O(1) duplicate/lookup.
	byID map[string]*model.Gap
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		streams: make(map[string][]*model.Gap, 8),
		byID:    make(map[string]*model.Gap, 256),
	}
}

// Insert adds a newly detected gap in state active. A gap with identical
// identity is rejected with model.ErrDuplicateGap and the registry is left
// untouched. Insertion order per stream equals call order.
func (r *Registry) Insert(g model.Gap) error {
	id := g.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return model.ErrDuplicateGap
	}

	g.State = model.StateActive
	stored := &g
	key := g.Key()
	r.streams[key] = append(r.streams[key], stored)
	r.byID[id] = stored
	return nil
}

// ApplyMitigation transitions the gap identified by id according to the
// verdict, stamped with the observation time ts.
//
// Rules: Full sets fully_mitigated and both timestamps (started_at only if
// not already set). A single observation covering the whole gap goes
// straight from active to fully_mitigated. Partial sets partially_mitigated
// and started_at on the first intersection only. A gap already in
// fully_mitigated is terminal: the call is an idempotent no-op. NoChange
// verdicts never touch state.
//
// Returns a copy of the gap after the call and whether its state changed.
// An unknown id yields model.ErrUnknownGap.
func (r *Registry) ApplyMitigation(id string, v mitigation.Verdict, ts time.Time) (model.Gap, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, exists := r.byID[id]
	if !exists {
		return model.Gap{}, false, model.ErrUnknownGap
	}

	if g.Terminal() || v == mitigation.NoChange {
		return *g, false, nil
	}

	switch v {
	case mitigation.Full:
		if g.MitigationStartedAt.IsZero() {
			g.MitigationStartedAt = ts
		}
		g.MitigationCompletedAt = ts
		g.State = model.StateFullyMitigated
		return *g, true, nil

	case mitigation.Partial:
		if g.State == model.StatePartiallyMitigated {
			// Subsequent partial hit, started_at stays at first touch.
			return *g, false, nil
		}
		g.MitigationStartedAt = ts
		g.State = model.StatePartiallyMitigated
		return *g, true, nil
	}

	return *g, false, nil
}

// Snapshot returns a read-consistent, insertion-ordered copy of all gaps
// (active and mitigated) for one stream. The returned slice shares nothing
// with internal storage.
func (r *Registry) Snapshot(symbol string, tf int) []model.Gap {
	key := model.StreamKeyFor(symbol, tf)

	r.mu.RLock()
	defer r.mu.RUnlock()

	gaps := r.streams[key]
	out := make([]model.Gap, len(gaps))
	for i, g := range gaps {
		out[i] = *g
	}
	return out
}

// ActiveGaps returns ordered copies of the gaps still eligible for
// mitigation (active or partially_mitigated) for one stream. This is the set
// the evaluator checks against on every price observation.
func (r *Registry) ActiveGaps(symbol string, tf int) []model.Gap {
	key := model.StreamKeyFor(symbol, tf)

	r.mu.RLock()
	defer r.mu.RUnlock()

	gaps := r.streams[key]
	out := make([]model.Gap, 0, len(gaps))
	for _, g := range gaps {
		if !g.Terminal() {
			out = append(out, *g)
		}
	}
	return out
}

// Counts returns (total, active) gap counts for one stream, for metrics.
func (r *Registry) Counts(symbol string, tf int) (total, active int) {
	key := model.StreamKeyFor(symbol, tf)

	r.mu.RLock()
	defer r.mu.RUnlock()

	gaps := r.streams[key]
	total = len(gaps)
	for _, g := range gaps {
		if !g.Terminal() {
			active++
		}
	}
	return total, active
}
