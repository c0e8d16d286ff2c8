package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"fvg-enginev1/internal/model"
)

// Alerter turns gap lifecycle events into alerts and fans them to the
// configured notifiers. Deliveries run inline on the consumer goroutine;
// the event bus drops for us if we fall behind.
type Alerter struct {
	notifiers []Notifier

	// MinGapSize suppresses alerts for gaps narrower than this (0 = all).
	MinGapSize float64
}

// NewAlerter creates an alerter over the given notifiers.
func NewAlerter(notifiers ...Notifier) *Alerter {
	return &Alerter{notifiers: notifiers}
}

// Run consumes gap events until ctx is done or eventCh is closed.
func (a *Alerter) Run(ctx context.Context, eventCh <-chan model.GapEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *Alerter) handle(ctx context.Context, ev model.GapEvent) {
	if a.MinGapSize > 0 && ev.Gap.Size() < a.MinGapSize {
		return
	}

	alert := formatAlert(ev)
	for _, n := range a.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := n.Send(sendCtx, alert); err != nil {
			log.Printf("[alerter] send failed: %v", err)
		}
		cancel()
	}
}

// formatAlert builds the human-readable alert for one event.
func formatAlert(ev model.GapEvent) Alert {
	g := &ev.Gap
	stream := fmt.Sprintf("%s %ds", g.Symbol, g.TF)

	switch ev.Type {
	case model.EventGapDetected:
		return Alert{
			Level: AlertInfo,
			Title: fmt.Sprintf("%s gap detected on %s", g.Direction, stream),
			Message: fmt.Sprintf("Range %.8g - %.8g (size %.8g), formed at %s",
				g.Lower, g.Upper, g.Size(), g.FormedAt.UTC().Format(time.RFC3339)),
		}

	case model.EventGapFullMitig:
		ttm := ""
		if d, ok := g.TimeToMitigation(); ok {
			ttm = ", filled in " + d.Round(time.Second).String()
		}
		return Alert{
			Level: AlertWarning,
			Title: fmt.Sprintf("%s gap fully mitigated on %s", g.Direction, stream),
			Message: fmt.Sprintf("Range %.8g - %.8g traded through at %s%s",
				g.Lower, g.Upper, ev.TS.UTC().Format(time.RFC3339), ttm),
		}

	default: // partial mitigation
		return Alert{
			Level: AlertInfo,
			Title: fmt.Sprintf("%s gap touched on %s", g.Direction, stream),
			Message: fmt.Sprintf("Price entered %.8g - %.8g at %s",
				g.Lower, g.Upper, ev.TS.UTC().Format(time.RFC3339)),
		}
	}
}
