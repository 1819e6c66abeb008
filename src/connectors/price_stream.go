package connectors

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// PriceStream keeps a live ticker cache fed over websocket so price lookups
// during reconciliation and exit enforcement do not hammer REST endpoints.
// A quote older than maxAge is treated as absent and the caller falls back
// to the connector's GetPrice.
type PriceStream struct {
	url     string
	symbols []string
	maxAge  time.Duration

	mu     sync.RWMutex
	quotes map[string]quote
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

type tickerMessage struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

func NewPriceStream(url string, symbols []string, maxAge time.Duration) *PriceStream {
	return &PriceStream{
		url:     url,
		symbols: symbols,
		maxAge:  maxAge,
		quotes:  make(map[string]quote),
	}
}

// Price returns the cached quote for a symbol if it is fresh enough.
func (s *PriceStream) Price(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[symbol]
	if !ok || time.Since(q.at) > s.maxAge {
		return decimal.Zero, false
	}
	return q.price, true
}

// Run consumes the stream until ctx is cancelled, reconnecting with backoff
// on any failure. Intended to be started as its own goroutine.
func (s *PriceStream) Run(ctx context.Context) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		logger.WithField("url", s.url).WithError(err).Warn("price stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *PriceStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"event":   "subscribe",
		"feed":    "ticker",
		"symbols": s.symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"url":     s.url,
		"symbols": len(s.symbols),
	}).Info("price stream connected")

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" || msg.Last <= 0 {
			continue
		}

		s.mu.Lock()
		s.quotes[msg.Symbol] = quote{price: decimal.NewFromFloat(msg.Last), at: time.Now()}
		s.mu.Unlock()
	}
}
