// Package redis publishes the gap lifecycle to Redis: an append-only event
// stream per instrument/TF, a latest-state key per gap, live pub/sub for
// dashboards, and periodic snapshot/stats exports. All writes go through a
// circuit breaker so a Redis outage degrades to dropped exports instead of
// backpressure into the detection pipeline.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"fvg-enginev1/internal/model"
	"fvg-enginev1/internal/stats"
)

const (
	// Event stream trimming: gaps are rare relative to candles, keep a
	// generous per-stream history.
	eventStreamMaxLen = 4096

	defaultLatestTTL = 24 * time.Hour
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// Breaker tuning; zero values get defaults (5 failures, 10s reset).
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// Writer writes gap events, snapshots, and stats to Redis.
type Writer struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	// OnWriteError is called once per failed (or breaker-rejected) write.
	OnWriteError func()
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the circuit breaker for state metrics.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// New creates a Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout == 0 {
		resetTimeout = 10 * time.Second
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{
		client:  client,
		breaker: NewCircuitBreaker(maxFailures, resetTimeout),
	}, nil
}

// Run consumes gap events and writes each to Redis.
// Blocks until ctx is cancelled or eventCh is closed.
func (w *Writer) Run(ctx context.Context, eventCh <-chan model.GapEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			w.writeEvent(ctx, ev)
		}
	}
}

// writeEvent performs the pipelined XADD + SET + PUBLISH for one event.
func (w *Writer) writeEvent(ctx context.Context, ev model.GapEvent) {
	jsonData := string(ev.JSON())
	streamKey := ev.StreamKey()
	latestKey := "fvg:latest:" + ev.Gap.ID()

	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: eventStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})

		// Latest lifecycle state per gap identity.
		pipe.Set(ctx, latestKey, string(ev.Gap.JSON()), defaultLatestTTL)

		pipe.Publish(ctx, ev.PubSubChannel(), jsonData)

		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if err != ErrCircuitOpen {
			log.Printf("[redis] event pipeline error for %s: %v", ev.Gap.ID(), err)
		}
		if w.OnWriteError != nil {
			w.OnWriteError()
		}
	}
}

// ExportSnapshot writes the full ordered gap set of one stream as a JSON
// array, for dashboard reads without replaying the event stream.
func (w *Writer) ExportSnapshot(ctx context.Context, symbol string, tf int, gaps []model.Gap) error {
	data, err := json.Marshal(gaps)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := "fvg:" + model.Itoa(tf) + "s:snapshot:" + symbol
	err = w.breaker.Execute(func() error {
		return w.client.Set(ctx, key, string(data), defaultLatestTTL).Err()
	})
	if err != nil {
		if w.OnWriteError != nil {
			w.OnWriteError()
		}
		return fmt.Errorf("redis snapshot %s: %w", key, err)
	}
	return nil
}

// PublishStats writes and publishes aggregate stats for one stream.
func (w *Writer) PublishStats(ctx context.Context, symbol string, tf int, res stats.Result) error {
	jsonData := string(res.JSON())
	key := "fvg:" + model.Itoa(tf) + "s:stats:" + symbol

	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.Set(ctx, key, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, "pub:"+key, jsonData)
		_, perr := pipe.Exec(ctx)
		return perr
	})
	if err != nil {
		if w.OnWriteError != nil {
			w.OnWriteError()
		}
		return fmt.Errorf("redis stats %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
