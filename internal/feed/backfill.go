package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fvg-enginev1/internal/model"
)

// Backfiller fetches historical klines over REST so the candle windows start
// warm and gap detection does not wait two live candles after boot.
type Backfiller struct {
	// RESTBaseURL e.g. "https://api.binance.com".
	RESTBaseURL string

	client *http.Client
}

// NewBackfiller creates a backfiller with a bounded request timeout.
func NewBackfiller(restBaseURL string) *Backfiller {
	return &Backfiller{
		RESTBaseURL: restBaseURL,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Klines fetches up to limit closed candles for one symbol/TF, oldest first.
// A TF with no native Binance interval returns (nil, nil): locally aggregated
// TFs have no history to fetch.
func (b *Backfiller) Klines(ctx context.Context, symbol string, tf int, limit int) ([]model.Candle, error) {
	iv := Interval(tf)
	if iv == "" {
		return nil, nil
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d", b.RESTBaseURL, symbol, iv, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("backfill %s %ds: %w", symbol, tf, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backfill %s %ds: %w", symbol, tf, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backfill %s %ds: status %d", symbol, tf, resp.StatusCode)
	}

	// Each row: [openTime, open, high, low, close, volume, closeTime, ...]
	// with prices as strings.
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("backfill %s %ds: decode: %w", symbol, tf, err)
	}

	now := time.Now().UTC()
	out := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		c, err := rowToCandle(symbol, tf, row)
		if err != nil {
			return nil, fmt.Errorf("backfill %s %ds: %w", symbol, tf, err)
		}
		if c.CloseTS.After(now) {
			// Last row is the still-forming candle; skip it.
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func rowToCandle(symbol string, tf int, row []json.RawMessage) (model.Candle, error) {
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}

	prices := make([]float64, 5)
	for i := 0; i < 5; i++ {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		prices[i] = v
	}

	ts := time.Unix(0, openTime*int64(time.Millisecond)).UTC()
	return model.Candle{
		Symbol:  symbol,
		TF:      tf,
		TS:      ts,
		CloseTS: ts.Add(time.Duration(tf) * time.Second),
		Open:    prices[0],
		High:    prices[1],
		Low:     prices[2],
		Close:   prices[3],
		Volume:  prices[4],
	}, nil
}
