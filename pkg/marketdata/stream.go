package marketdata

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

const defaultKlineStreamURL = "wss://stream.binance.com:9443/stream"

// klineEnvelope wraps messages on a combined stream.
type klineEnvelope struct {
	Stream string       `json:"stream"`
	Data   klineMessage `json:"data"`
}

type klineMessage struct {
	EventType string  `json:"e"`
	Symbol    string  `json:"s"`
	Kline     klineWS `json:"k"`
}

type klineWS struct {
	OpenTime int64  `json:"t"`
	Symbol   string `json:"s"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"`
}

// streamReader is the subset of a websocket connection the stream reads from.
type streamReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type streamDialer func(ctx context.Context, url string) (streamReader, error)

// KlineStream delivers closed candles for a set of symbols over the combined
// kline websocket. In-progress candle updates are dropped; the engine only
// acts on completed bars.
type KlineStream struct {
	log      *logger.Logger
	url      string
	symbols  []string
	interval Interval
	dial     streamDialer
	bars     chan types.Bar
}

func NewKlineStream(symbols []string, interval Interval, log *logger.Logger) *KlineStream {
	dial := func(ctx context.Context, url string) (streamReader, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}

		return conn, nil
	}

	return newKlineStreamWithDialer(symbols, interval, dial, defaultKlineStreamURL, log)
}

func newKlineStreamWithDialer(symbols []string, interval Interval, dial streamDialer, url string, log *logger.Logger) *KlineStream {
	return &KlineStream{
		log:      log,
		url:      url,
		symbols:  symbols,
		interval: interval,
		dial:     dial,
		bars:     make(chan types.Bar, 256),
	}
}

// Bars returns the closed-candle stream. Closed when Run returns.
func (s *KlineStream) Bars() <-chan types.Bar {
	return s.bars
}

// Run reads the stream until the context ends, reconnecting with backoff on
// read failures.
func (s *KlineStream) Run(ctx context.Context) error {
	defer close(s.bars)

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		s.readLoop(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}

		s.log.Warn("Kline stream dropped, reconnecting")
	}
}

func (s *KlineStream) streamURL() string {
	streams := make([]string, len(s.symbols))
	for i, symbol := range s.symbols {
		streams[i] = strings.ToLower(symbol) + "@kline_" + string(s.interval)
	}

	return s.url + "?streams=" + strings.Join(streams, "/")
}

func (s *KlineStream) connect(ctx context.Context) (streamReader, error) {
	var conn streamReader

	operation := func() error {
		c, err := s.dial(ctx, s.streamURL())
		if err != nil {
			return err
		}

		conn = c

		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, errors.Wrap(errors.ErrCodeGatewayStream, "kline stream connect failed", err)
	}

	return conn, nil
}

func (s *KlineStream) readLoop(ctx context.Context, conn streamReader) {
	defer conn.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		bar, ok := s.parse(message)
		if !ok {
			continue
		}

		select {
		case s.bars <- bar:
		case <-ctx.Done():
			return
		}
	}
}

// parse extracts a completed bar, dropping everything else.
func (s *KlineStream) parse(message []byte) (types.Bar, bool) {
	var envelope klineEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.log.Warn("Dropping malformed kline message", zap.Error(err))

		return types.Bar{}, false
	}

	data := envelope.Data
	if data.EventType != "kline" || !data.Kline.Closed {
		return types.Bar{}, false
	}

	open, err1 := strconv.ParseFloat(data.Kline.Open, 64)
	high, err2 := strconv.ParseFloat(data.Kline.High, 64)
	low, err3 := strconv.ParseFloat(data.Kline.Low, 64)
	closePrice, err4 := strconv.ParseFloat(data.Kline.Close, 64)
	volume, err5 := strconv.ParseFloat(data.Kline.Volume, 64)

	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			s.log.Warn("Dropping kline with bad prices", zap.Error(err))

			return types.Bar{}, false
		}
	}

	return types.Bar{
		Symbol: data.Symbol,
		Time:   time.UnixMilli(data.Kline.OpenTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, true
}
