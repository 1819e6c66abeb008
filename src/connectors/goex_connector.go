package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// ErrRawTransportUnsupported is returned by adapters whose underlying
// library signs and sends internally, leaving no raw request surface.
var ErrRawTransportUnsupported = errors.New("raw sign-and-send not supported by this adapter")

// GoexConnector adapts a goex spot exchange to the capability contract.
// Spot exchanges have no position endpoint; holdings of non-quote assets
// above a dust threshold are reported as positions with an unknown entry
// price, which reconciliation adopts at the current market price.
type GoexConnector struct {
	name  string
	api   goex.API
	quote goex.Currency
	// dustQuoteValue is the minimum quote value a holding must reach to be
	// reported as a position.
	dustQuoteValue decimal.Decimal
}

func NewGoexConnector(name string, api goex.API, quote goex.Currency, dustQuoteValue decimal.Decimal) *GoexConnector {
	return &GoexConnector{
		name:           name,
		api:            api,
		quote:          quote,
		dustQuoteValue: dustQuoteValue,
	}
}

func (c *GoexConnector) Name() string {
	return c.name
}

// SignAndSend is unavailable: goex signs requests internally. Spot
// exchanges served by this adapter do not use a request counter either.
func (c *GoexConnector) SignAndSend(ctx context.Context, method, path string, body []byte, sequence int64) ([]byte, error) {
	return nil, ErrRawTransportUnsupported
}

// pair converts core symbols ("BTC_USDT") into goex currency pairs.
func (c *GoexConnector) pair(symbol string) (goex.CurrencyPair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !strings.Contains(s, "_") {
		return goex.UNKNOWN_PAIR, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	return goex.NewCurrencyPair2(s), nil
}

func (c *GoexConnector) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal, sequence int64) (*OrderResult, error) {
	pair, err := c.pair(symbol)
	if err != nil {
		return nil, err
	}

	ticker, err := c.api.GetTicker(pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	price := decimal.NewFromFloat(ticker.Last)

	var placed *goex.Order
	switch strings.ToLower(side) {
	case "buy":
		placed, err = c.api.MarketBuy(quantity.String(), price.String(), pair)
	case "sell":
		placed, err = c.api.MarketSell(quantity.String(), price.String(), pair)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}
	if err != nil {
		return nil, err
	}

	// Market orders usually confirm without fill details; fetch the final
	// order state for the realized average price.
	filledPrice := decimal.NewFromFloat(placed.AvgPrice)
	filledQty := decimal.NewFromFloat(placed.DealAmount)
	status := "open"

	if final, err := c.api.GetOneOrder(placed.OrderID2, pair); err == nil {
		filledPrice = decimal.NewFromFloat(final.AvgPrice)
		filledQty = decimal.NewFromFloat(final.DealAmount)
		if final.Status == goex.ORDER_FINISH {
			status = "filled"
		}
	} else {
		logger.WithFields(map[string]interface{}{
			"exchange": c.name,
			"order_id": placed.OrderID2,
		}).WithError(err).Warn("failed to fetch final order state after market order")
	}

	if filledPrice.IsZero() {
		filledPrice = price
	}
	if filledQty.IsZero() {
		filledQty = quantity
	}

	return &OrderResult{
		OrderID:        placed.OrderID2,
		FilledPrice:    filledPrice,
		FilledQuantity: filledQty,
		Status:         status,
	}, nil
}

func (c *GoexConnector) GetOpenOrders(ctx context.Context) ([]RawOrder, error) {
	// goex reports unfinished orders per pair; without a pair filter we use
	// the account's held assets as the candidate set.
	account, err := c.api.GetAccount()
	if err != nil {
		return nil, err
	}

	var orders []RawOrder
	for currency := range account.SubAccounts {
		if currency == c.quote {
			continue
		}

		pair := goex.NewCurrencyPair(currency, c.quote)
		unfinished, err := c.api.GetUnfinishOrders(pair)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"exchange": c.name,
				"pair":     pair.String(),
			}).WithError(err).Warn("failed to list unfinished orders for pair")
			continue
		}

		for _, o := range unfinished {
			side := "buy"
			if o.Side == goex.SELL || o.Side == goex.SELL_MARKET {
				side = "sell"
			}
			orders = append(orders, RawOrder{
				OrderID:  o.OrderID2,
				Symbol:   pair.ToSymbol("_"),
				Side:     side,
				Price:    decimal.NewFromFloat(o.Price),
				Quantity: decimal.NewFromFloat(o.Amount - o.DealAmount),
				Status:   "open",
			})
		}
	}

	return orders, nil
}

func (c *GoexConnector) GetPositions(ctx context.Context) ([]RawPosition, error) {
	account, err := c.api.GetAccount()
	if err != nil {
		return nil, err
	}

	var positions []RawPosition
	for currency, sub := range account.SubAccounts {
		if currency == c.quote || sub.Amount <= 0 {
			continue
		}

		pair := goex.NewCurrencyPair(currency, c.quote)
		qty := decimal.NewFromFloat(sub.Amount)

		ticker, err := c.api.GetTicker(pair)
		if err != nil {
			// Unquotable holding: still report it so reconciliation can
			// quarantine the symbol instead of silently orphaning it.
			positions = append(positions, RawPosition{
				Symbol:   pair.ToSymbol("_"),
				Side:     "buy",
				Quantity: qty,
			})
			continue
		}

		quoteValue := qty.Mul(decimal.NewFromFloat(ticker.Last))
		if quoteValue.LessThan(c.dustQuoteValue) {
			continue
		}

		positions = append(positions, RawPosition{
			Symbol:   pair.ToSymbol("_"),
			Side:     "buy",
			Quantity: qty,
			// Spot balances carry no entry price; reconciliation adopts at
			// the current market price.
			EntryPriceKnown: false,
		})
	}

	return positions, nil
}

func (c *GoexConnector) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair, err := c.pair(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	ticker, err := c.api.GetTicker(pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if ticker.Last <= 0 {
		return decimal.Zero, ErrPriceUnavailable
	}

	return decimal.NewFromFloat(ticker.Last), nil
}

// CancelOrder cancels by "orderID@SYMBOL" reference, since goex requires the
// pair alongside the order id.
func (c *GoexConnector) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	id, symbol, found := strings.Cut(orderID, "@")
	if !found {
		return false, fmt.Errorf("goex cancel requires id@symbol, got %q", orderID)
	}

	pair, err := c.pair(symbol)
	if err != nil {
		return false, err
	}

	return c.api.CancelOrder(id, pair)
}

func (c *GoexConnector) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	account, err := c.api.GetAccount()
	if err != nil {
		return decimal.Zero, err
	}

	sub, ok := account.SubAccounts[c.quote]
	if !ok {
		return decimal.Zero, nil
	}

	return decimal.NewFromFloat(sub.Amount), nil
}
