package connectors

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPriceUnavailable means the exchange cannot currently quote the
	// symbol. Reconciliation turns this into a zombie asset entry.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrUnsupportedSymbol means the exchange does not know the symbol at
	// all.
	ErrUnsupportedSymbol = errors.New("unsupported symbol")

	// ErrStaleSequence means the exchange rejected the request counter.
	// Fatal for the single call: the caller must obtain a fresh sequence,
	// never resend the same one.
	ErrStaleSequence = errors.New("stale request sequence rejected")
)

// RawOrder is an exchange-reported open order, before the core maps it into
// its own ledger types.
type RawOrder struct {
	OrderID  string
	Symbol   string
	Side     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Status   string
}

// RawPosition is an exchange-reported position. EntryPriceKnown is false for
// exchanges that only report size; reconciliation then synthesizes the entry
// from the current market price.
type RawPosition struct {
	Symbol          string
	Side            string
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal
	EntryPriceKnown bool
}

// OrderResult is the exchange's confirmation of one placed order.
type OrderResult struct {
	OrderID        string
	FilledPrice    decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         string
}

// ExchangeConnector is the capability contract every exchange adapter
// implements. The core is polymorphic over this interface and never over
// exchange-specific types. Transient transport errors (timeouts, rate
// limits) are retried inside the adapter; what escapes this boundary is
// either a confirmed response or a terminal error.
type ExchangeConnector interface {
	// Name identifies the exchange (e.g. "kraken-futures").
	Name() string

	// SignAndSend executes one signed request carrying the given sequence
	// value. Callers hold the credential scope's call lock across the whole
	// invocation.
	SignAndSend(ctx context.Context, method, path string, body []byte, sequence int64) ([]byte, error)

	// PlaceMarketOrder submits a market order under the given sequence and
	// returns the confirmed fill.
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal, sequence int64) (*OrderResult, error)

	// GetOpenOrders lists the account's open orders on the exchange.
	GetOpenOrders(ctx context.Context) ([]RawOrder, error)

	// GetPositions lists the account's positions on the exchange.
	GetPositions(ctx context.Context) ([]RawPosition, error)

	// GetPrice quotes a symbol, or returns ErrPriceUnavailable /
	// ErrUnsupportedSymbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// CancelOrder cancels one order; false means the exchange no longer
	// knows it.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetBalance reports the account's available quote balance.
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}
