package connectors

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPriceStreamFreshness(t *testing.T) {
	s := NewPriceStream("wss://example.invalid/ws", []string{"PF_XBTUSD"}, 30*time.Second)

	if _, ok := s.Price("PF_XBTUSD"); ok {
		t.Fatal("empty cache reported a price")
	}

	s.quotes["PF_XBTUSD"] = quote{price: decimal.RequireFromString("40000"), at: time.Now()}
	price, ok := s.Price("PF_XBTUSD")
	if !ok || !price.Equal(decimal.RequireFromString("40000")) {
		t.Fatalf("fresh quote not returned: %s %v", price, ok)
	}

	s.quotes["PF_XBTUSD"] = quote{price: decimal.RequireFromString("40000"), at: time.Now().Add(-time.Minute)}
	if _, ok := s.Price("PF_XBTUSD"); ok {
		t.Fatal("stale quote served as fresh")
	}
}
