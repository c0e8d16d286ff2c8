// Package feed ingests market data from Binance: live closed klines and
// aggregate trades over WebSocket, plus REST backfill to warm the candle
// windows at startup. Ticks for timeframes Binance does not stream natively
// are resampled locally by the Aggregator.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fvg-enginev1/internal/model"
)

// Tick is one aggregate trade, the raw input for tick-level mitigation
// observations and for local TF aggregation.
type Tick struct {
	Symbol string
	Price  float64
	Qty    float64
	TS     time.Time
}

// tfIntervals maps TF seconds to the Binance kline interval label.
// TFs without a label cannot be streamed natively and fall back to the
// local tick aggregator.
var tfIntervals = map[int]string{
	60:    "1m",
	180:   "3m",
	300:   "5m",
	900:   "15m",
	1800:  "30m",
	3600:  "1h",
	7200:  "2h",
	14400: "4h",
	86400: "1d",
}

// Interval returns the Binance kline interval label for a TF in seconds,
// or "" when the TF has no native stream.
func Interval(tf int) string {
	return tfIntervals[tf]
}

// Config holds the WebSocket ingest configuration.
type Config struct {
	// WSBaseURL e.g. "wss://stream.binance.com:9443".
	WSBaseURL string

	// Symbols in upper case, e.g. ["BTCUSDT"].
	Symbols []string

	// TFs in seconds. TFs with a native interval get a kline stream;
	// the rest are served by the Aggregator from the trade stream.
	TFs []int

	// SubscribeTrades also subscribes <sym>@aggTrade for tick observations.
	SubscribeTrades bool
}

// Ingest connects to the Binance combined stream endpoint and pushes closed
// klines and trades into the pipeline channels. Reconnects with exponential
// backoff until ctx is cancelled.
type Ingest struct {
	cfg Config

	// Optional metrics hooks
	OnReconnect   func()
	OnParseError  func()
	OnDroppedTick func()
}

// NewIngest creates a WebSocket ingest.
func NewIngest(cfg Config) *Ingest {
	return &Ingest{cfg: cfg}
}

// streamURL builds the combined-stream URL for the configured symbols/TFs.
func (ing *Ingest) streamURL() string {
	var streams []string
	for _, sym := range ing.cfg.Symbols {
		lower := strings.ToLower(sym)
		for _, tf := range ing.cfg.TFs {
			if iv := Interval(tf); iv != "" {
				streams = append(streams, lower+"@kline_"+iv)
			}
		}
		if ing.cfg.SubscribeTrades {
			streams = append(streams, lower+"@aggTrade")
		}
	}
	return ing.cfg.WSBaseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and streams until ctx is cancelled. Closed klines go to
// candleCh, trades to tickCh (nil tickCh disables trade delivery). Sends are
// non-blocking: a full channel drops the message rather than stalling reads.
func (ing *Ingest) Run(ctx context.Context, candleCh chan<- model.Candle, tickCh chan<- Tick) {
	url := ing.streamURL()
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Printf("[feed] dial %s: %v (retry in %v)", url, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			if ing.OnReconnect != nil {
				ing.OnReconnect()
			}
			continue
		}

		log.Printf("[feed] connected %s", url)
		backoff = time.Second

		// Reader loop. A context cancel closes the conn to unblock ReadMessage.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		ing.readLoop(conn, candleCh, tickCh)
		close(done)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Println("[feed] connection lost, reconnecting")
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}
}

// combinedMsg is the envelope of the /stream multiplexed endpoint.
type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineMsg is the kline event payload.
type klineMsg struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// aggTradeMsg is the aggTrade event payload.
type aggTradeMsg struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTS   int64  `json:"T"`
}

func (ing *Ingest) readLoop(conn *websocket.Conn, candleCh chan<- model.Candle, tickCh chan<- Tick) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env combinedMsg
		if err := json.Unmarshal(raw, &env); err != nil {
			ing.parseError("envelope", err)
			continue
		}

		switch {
		case strings.Contains(env.Stream, "@kline_"):
			var km klineMsg
			if err := json.Unmarshal(env.Data, &km); err != nil {
				ing.parseError("kline", err)
				continue
			}
			if !km.Kline.Closed {
				// Only closed candles enter the pipeline.
				continue
			}
			c, err := klineToCandle(km)
			if err != nil {
				ing.parseError("kline", err)
				continue
			}
			select {
			case candleCh <- c:
			default:
				log.Printf("[feed] candleCh full, dropping candle %s ts=%v", c.Key(), c.TS)
			}

		case strings.HasSuffix(env.Stream, "@aggTrade"):
			if tickCh == nil {
				continue
			}
			var tm aggTradeMsg
			if err := json.Unmarshal(env.Data, &tm); err != nil {
				ing.parseError("aggTrade", err)
				continue
			}
			price, err := strconv.ParseFloat(tm.Price, 64)
			if err != nil {
				ing.parseError("aggTrade", err)
				continue
			}
			qty, _ := strconv.ParseFloat(tm.Qty, 64)
			tick := Tick{
				Symbol: tm.Symbol,
				Price:  price,
				Qty:    qty,
				TS:     time.Unix(0, tm.TradeTS*int64(time.Millisecond)).UTC(),
			}
			select {
			case tickCh <- tick:
			default:
				if ing.OnDroppedTick != nil {
					ing.OnDroppedTick()
				}
			}
		}
	}
}

func (ing *Ingest) parseError(kind string, err error) {
	log.Printf("[feed] parse %s: %v", kind, err)
	if ing.OnParseError != nil {
		ing.OnParseError()
	}
}

// klineToCandle converts a closed kline into a model.Candle. The candle's TS
// is the bucket open time; CloseTS is the exact end of the bucket (Binance
// reports closeTime as bucket end minus 1ms).
func klineToCandle(km klineMsg) (model.Candle, error) {
	tf := intervalToTF(km.Kline.Interval)
	if tf == 0 {
		return model.Candle{}, fmt.Errorf("unknown interval %q", km.Kline.Interval)
	}

	o, err := strconv.ParseFloat(km.Kline.Open, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("open: %w", err)
	}
	h, err := strconv.ParseFloat(km.Kline.High, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("high: %w", err)
	}
	l, err := strconv.ParseFloat(km.Kline.Low, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("low: %w", err)
	}
	cl, err := strconv.ParseFloat(km.Kline.Close, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("close: %w", err)
	}
	v, _ := strconv.ParseFloat(km.Kline.Volume, 64)

	ts := time.Unix(0, km.Kline.OpenTime*int64(time.Millisecond)).UTC()
	return model.Candle{
		Symbol:  km.Symbol,
		TF:      tf,
		TS:      ts,
		CloseTS: ts.Add(time.Duration(tf) * time.Second),
		Open:    o,
		High:    h,
		Low:     l,
		Close:   cl,
		Volume:  v,
	}, nil
}

// intervalToTF is the inverse of Interval.
func intervalToTF(interval string) int {
	for tf, iv := range tfIntervals {
		if iv == interval {
			return tf
		}
	}
	return 0
}
