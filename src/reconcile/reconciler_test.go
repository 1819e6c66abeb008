package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"executioncore/src/connectors"
	"executioncore/src/model"
)

type memPositions struct {
	mu    sync.Mutex
	open  []model.Position
	saves int
}

func (p *memPositions) Save(_ context.Context, pos *model.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = append(p.open, *pos)
	p.saves++
	return nil
}

func (p *memPositions) FindOpenBySymbol(_ context.Context, accountID uint, exchange, symbol string) (*model.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.open {
		pos := p.open[i]
		if pos.AccountID == accountID && pos.Exchange == exchange && pos.Symbol == symbol && pos.Status == model.PositionStatusOpen {
			return &pos, nil
		}
	}
	return nil, nil
}

type memZombies struct {
	mu      sync.Mutex
	entries map[string]model.ZombieAsset
}

func newMemZombies() *memZombies {
	return &memZombies{entries: make(map[string]model.ZombieAsset)}
}

func (z *memZombies) key(accountID uint, exchange, symbol string) string {
	return fmt.Sprintf("%d/%s/%s", accountID, exchange, symbol)
}

func (z *memZombies) Upsert(_ context.Context, za *model.ZombieAsset) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.entries[z.key(za.AccountID, za.Exchange, za.Symbol)] = *za
	return nil
}

func (z *memZombies) Find(_ context.Context, accountID uint, exchange, symbol string) (*model.ZombieAsset, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if za, ok := z.entries[z.key(accountID, exchange, symbol)]; ok {
		return &za, nil
	}
	return nil, nil
}

func (z *memZombies) Remove(_ context.Context, accountID uint, exchange, symbol string) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	delete(z.entries, z.key(accountID, exchange, symbol))
	return nil
}

// stubConnector reports scripted positions and prices, counting price calls.
type stubConnector struct {
	positions  []connectors.RawPosition
	prices     map[string]decimal.Decimal
	priceErr   map[string]error
	priceCalls int
}

func (c *stubConnector) Name() string { return "stub" }

func (c *stubConnector) SignAndSend(_ context.Context, _, _ string, _ []byte, _ int64) ([]byte, error) {
	return nil, nil
}

func (c *stubConnector) PlaceMarketOrder(_ context.Context, _, _ string, _ decimal.Decimal, _ int64) (*connectors.OrderResult, error) {
	return nil, errors.New("not used")
}

func (c *stubConnector) GetOpenOrders(_ context.Context) ([]connectors.RawOrder, error) {
	return nil, nil
}

func (c *stubConnector) GetPositions(_ context.Context) ([]connectors.RawPosition, error) {
	return c.positions, nil
}

func (c *stubConnector) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	c.priceCalls++
	if err, ok := c.priceErr[symbol]; ok {
		return decimal.Zero, err
	}
	if price, ok := c.prices[symbol]; ok {
		return price, nil
	}
	return decimal.Zero, connectors.ErrPriceUnavailable
}

func (c *stubConnector) CancelOrder(_ context.Context, _ string) (bool, error) { return false, nil }

func (c *stubConnector) GetBalance(_ context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type stubCache struct {
	prices map[string]decimal.Decimal
}

func (c *stubCache) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := c.prices[symbol]
	return p, ok
}

func rawPos(symbol, qty string) connectors.RawPosition {
	return connectors.RawPosition{
		Symbol:   symbol,
		Side:     model.SideBuy,
		Quantity: decimal.RequireFromString(qty),
	}
}

func TestReconcileAdoptsAtMarketPrice(t *testing.T) {
	positions := &memPositions{}
	zombies := newMemZombies()
	conn := &stubConnector{
		positions: []connectors.RawPosition{rawPos("BTC_USDT", "0.5")},
		prices:    map[string]decimal.Decimal{"BTC_USDT": decimal.RequireFromString("40000")},
	}

	report, err := New(positions, zombies, nil).Reconcile(context.Background(), 1, conn)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(report.Adopted) != 1 {
		t.Fatalf("expected 1 adoption, got %+v", report)
	}

	adopted := report.Adopted[0]
	if adopted.Source != model.PositionSourceAdopted {
		t.Fatalf("adopted position source %s", adopted.Source)
	}
	if !adopted.EntryPrice.Equal(decimal.RequireFromString("40000")) {
		t.Fatalf("adopted at %s, expected current price 40000", adopted.EntryPrice)
	}
	if !adopted.QuoteSize.Equal(decimal.RequireFromString("20000")) {
		t.Fatalf("quote size %s, expected 20000", adopted.QuoteSize)
	}
}

func TestReconcilePrefersKnownEntryPrice(t *testing.T) {
	positions := &memPositions{}
	zombies := newMemZombies()

	raw := rawPos("ETH_USDT", "2")
	raw.EntryPrice = decimal.RequireFromString("2500")
	raw.EntryPriceKnown = true

	conn := &stubConnector{
		positions: []connectors.RawPosition{raw},
		prices:    map[string]decimal.Decimal{"ETH_USDT": decimal.RequireFromString("2600")},
	}

	report, err := New(positions, zombies, nil).Reconcile(context.Background(), 1, conn)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(report.Adopted) != 1 || !report.Adopted[0].EntryPrice.Equal(decimal.RequireFromString("2500")) {
		t.Fatalf("expected adoption at reported entry 2500, got %+v", report.Adopted)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	positions := &memPositions{}
	zombies := newMemZombies()
	conn := &stubConnector{
		positions: []connectors.RawPosition{rawPos("BTC_USDT", "0.5")},
		prices:    map[string]decimal.Decimal{"BTC_USDT": decimal.RequireFromString("40000")},
	}

	r := New(positions, zombies, nil)

	if _, err := r.Reconcile(context.Background(), 1, conn); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	report, err := r.Reconcile(context.Background(), 1, conn)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if len(report.Adopted) != 0 || report.AlreadyTracked != 1 {
		t.Fatalf("second pass not a no-op: %+v", report)
	}
	if positions.saves != 1 {
		t.Fatalf("position saved %d times across two passes", positions.saves)
	}
}

func TestReconcileQuarantinesUnpriceableSymbol(t *testing.T) {
	positions := &memPositions{}
	zombies := newMemZombies()
	conn := &stubConnector{
		positions: []connectors.RawPosition{rawPos("WEIRD_COIN", "10")},
		priceErr:  map[string]error{"WEIRD_COIN": connectors.ErrUnsupportedSymbol},
	}

	report, err := New(positions, zombies, nil).Reconcile(context.Background(), 1, conn)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(report.Failed) != 1 || report.Failed[0].Reason != model.ZombieReasonUnsupportedSymbol {
		t.Fatalf("expected unsupported-symbol failure, got %+v", report.Failed)
	}

	zombie, _ := zombies.Find(context.Background(), 1, "stub", "WEIRD_COIN")
	if zombie == nil {
		t.Fatal("unpriceable symbol not quarantined")
	}
}

func TestReconcileSkipsActiveLookupForQuarantined(t *testing.T) {
	positions := &memPositions{}
	zombies := newMemZombies()
	_ = zombies.Upsert(context.Background(), &model.ZombieAsset{
		AccountID: 1,
		Exchange:  "stub",
		Symbol:    "WEIRD_COIN",
		Reason:    model.ZombieReasonPriceUnavailable,
	})

	conn := &stubConnector{
		positions: []connectors.RawPosition{rawPos("WEIRD_COIN", "10")},
		prices:    map[string]decimal.Decimal{"WEIRD_COIN": decimal.RequireFromString("1")},
	}

	report, err := New(positions, zombies, nil).Reconcile(context.Background(), 1, conn)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if conn.priceCalls != 0 {
		t.Fatalf("quarantined symbol still hit the active price lookup %d times", conn.priceCalls)
	}
	if len(report.Failed) != 1 || report.Failed[0].Reason != model.ZombieReasonPriceUnavailable {
		t.Fatalf("expected stored quarantine reason, got %+v", report.Failed)
	}
}

func TestReconcileCacheHitLiftsQuarantine(t *testing.T) {
	positions := &memPositions{}
	zombies := newMemZombies()
	_ = zombies.Upsert(context.Background(), &model.ZombieAsset{
		AccountID: 1,
		Exchange:  "stub",
		Symbol:    "WEIRD_COIN",
		Reason:    model.ZombieReasonPriceUnavailable,
	})

	conn := &stubConnector{
		positions: []connectors.RawPosition{rawPos("WEIRD_COIN", "10")},
	}
	cache := &stubCache{prices: map[string]decimal.Decimal{
		"WEIRD_COIN": decimal.RequireFromString("3"),
	}}

	report, err := New(positions, zombies, cache).Reconcile(context.Background(), 1, conn)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(report.Adopted) != 1 {
		t.Fatalf("cached price did not adopt: %+v", report)
	}

	zombie, _ := zombies.Find(context.Background(), 1, "stub", "WEIRD_COIN")
	if zombie != nil {
		t.Fatal("successful adoption left the quarantine entry in place")
	}
}

func TestReconcileQuarantinesNonPositiveQuantity(t *testing.T) {
	positions := &memPositions{}
	zombies := newMemZombies()
	conn := &stubConnector{
		positions: []connectors.RawPosition{rawPos("BTC_USDT", "0")},
	}

	report, err := New(positions, zombies, nil).Reconcile(context.Background(), 1, conn)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(report.Failed) != 1 || report.Failed[0].Reason != model.ZombieReasonQuantityUnavailable {
		t.Fatalf("expected quantity failure, got %+v", report.Failed)
	}
	if conn.priceCalls != 0 {
		t.Fatal("price looked up for a quantity-less position")
	}
}
