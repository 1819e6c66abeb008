package enforcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"executioncore/src/connectors"
	"executioncore/src/gateway"
	"executioncore/src/ledger"
	"executioncore/src/model"
	"executioncore/src/sequence"
)

// stubConnector fills every market order at a fixed price and records
// cancels.
type stubConnector struct {
	mu        sync.Mutex
	orders    []string // "side symbol"
	cancels   []string
	cancelErr error
}

func (c *stubConnector) Name() string { return "stub" }

func (c *stubConnector) SignAndSend(_ context.Context, _, _ string, _ []byte, _ int64) ([]byte, error) {
	return nil, nil
}

func (c *stubConnector) PlaceMarketOrder(_ context.Context, symbol, side string, quantity decimal.Decimal, _ int64) (*connectors.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, side+" "+symbol)
	return &connectors.OrderResult{
		OrderID:        fmt.Sprintf("ex-%d", len(c.orders)),
		FilledPrice:    decimal.RequireFromString("100"),
		FilledQuantity: quantity,
		Status:         "filled",
	}, nil
}

func (c *stubConnector) GetOpenOrders(_ context.Context) ([]connectors.RawOrder, error) {
	return nil, nil
}

func (c *stubConnector) GetPositions(_ context.Context) ([]connectors.RawPosition, error) {
	return nil, nil
}

func (c *stubConnector) GetPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.RequireFromString("100"), nil
}

func (c *stubConnector) CancelOrder(_ context.Context, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelErr != nil {
		return false, c.cancelErr
	}
	c.cancels = append(c.cancels, orderID)
	return true, nil
}

func (c *stubConnector) GetBalance(_ context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("10000"), nil
}

func (c *stubConnector) placed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.orders))
	copy(out, c.orders)
	return out
}

func (c *stubConnector) cancelled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.cancels))
	copy(out, c.cancels)
	return out
}

// memPositions backs both the gateway (Save/Close) and the enforcer
// (FindOpen) so forced exits are reflected in the next listing.
type memPositions struct {
	mu   sync.Mutex
	open map[string]model.Position
}

func newMemPositions(positions ...model.Position) *memPositions {
	m := &memPositions{open: make(map[string]model.Position)}
	for _, p := range positions {
		m.open[p.ID] = p
	}
	return m
}

func (p *memPositions) Save(_ context.Context, pos *model.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open[pos.ID] = *pos
	return nil
}

func (p *memPositions) Close(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.open, id)
	return nil
}

func (p *memPositions) FindOpen(_ context.Context, accountID uint, exchange string) ([]model.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Position
	for _, pos := range p.open {
		if pos.AccountID == accountID && pos.Exchange == exchange {
			out = append(out, pos)
		}
	}
	return out, nil
}

type memCheckpoints struct {
	mu     sync.Mutex
	values map[string]int64
}

func (s *memCheckpoints) Load(_ context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[scope], nil
}

func (s *memCheckpoints) Store(_ context.Context, scope string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]int64)
	}
	s.values[scope] = value
	return nil
}

func position(id, symbol, quoteSize string) model.Position {
	return model.Position{
		ID:        id,
		AccountID: 1,
		Exchange:  "stub",
		Symbol:    symbol,
		Side:      model.SideBuy,
		Quantity:  decimal.NewFromInt(1),
		QuoteSize: decimal.RequireFromString(quoteSize),
		Source:    model.PositionSourceStrategy,
		Status:    model.PositionStatusOpen,
	}
}

func newTestEnforcer(t *testing.T, conn *stubConnector, positions *memPositions) (*Enforcer, *ledger.Ledger) {
	t.Helper()

	gen, err := sequence.New(context.Background(), "stub", &memCheckpoints{}, sequence.Config{CheckpointEvery: 64})
	if err != nil {
		t.Fatalf("sequence.New failed: %v", err)
	}

	books := ledger.New(nil)
	gw := gateway.New(1, "stub", conn, gen, books, positions)
	return New([]*gateway.Gateway{gw}, positions, books), books
}

func TestEnforcerClosesSmallestOverCap(t *testing.T) {
	conn := &stubConnector{}
	positions := newMemPositions(
		position("p1", "AAA_USD", "500"),
		position("p2", "BBB_USD", "10"),
		position("p3", "CCC_USD", "300"),
		position("p4", "DDD_USD", "20"),
		position("p5", "EEE_USD", "400"),
	)

	e, _ := newTestEnforcer(t, conn, positions)
	e.enforcePair(context.Background(), e.gateways[0])

	// Cap is 3: the two smallest (BBB at 10, DDD at 20) must go.
	placed := placedSet(conn)
	if len(placed) != 2 {
		t.Fatalf("expected 2 forced exits, got %v", conn.placed())
	}
	if !placed["sell BBB_USD"] || !placed["sell DDD_USD"] {
		t.Fatalf("wrong positions closed: %v", conn.placed())
	}

	remaining, _ := positions.FindOpen(context.Background(), 1, "stub")
	if len(remaining) != 3 {
		t.Fatalf("expected 3 positions after enforcement, got %d", len(remaining))
	}
}

func TestEnforcerForcedUnwindClosesEverything(t *testing.T) {
	conn := &stubConnector{}
	positions := newMemPositions(
		position("p1", "AAA_USD", "500"),
		position("p2", "BBB_USD", "10"),
	)

	e, _ := newTestEnforcer(t, conn, positions)
	e.SetForcedUnwind(1, true, "operator drain")

	e.enforcePair(context.Background(), e.gateways[0])

	remaining, _ := positions.FindOpen(context.Background(), 1, "stub")
	if len(remaining) != 0 {
		t.Fatalf("forced unwind left %d positions open", len(remaining))
	}
	if len(conn.placed()) != 2 {
		t.Fatalf("expected 2 exits, got %v", conn.placed())
	}

	e.SetForcedUnwind(1, false, "drained")
	if e.ForcedUnwind(1) {
		t.Fatal("forced unwind flag did not clear")
	}
}

func TestEnforcerSweepsStaleOrders(t *testing.T) {
	conn := &stubConnector{}
	positions := newMemPositions()

	e, books := newTestEnforcer(t, conn, positions)

	stale := &model.Order{
		ID:              "stale-1",
		AccountID:       1,
		Exchange:        "stub",
		Symbol:          "AAA_USD",
		Side:            model.SideBuy,
		OrderDir:        model.OrderDirEntry,
		Status:          model.OrderStatusOpen,
		ReservedCapital: decimal.RequireFromString("100"),
		CreatedAt:       time.Now().Add(-2 * time.Hour),
	}
	if err := books.AddOrder(context.Background(), stale); err != nil {
		t.Fatalf("AddOrder failed: %v", err)
	}

	e.enforcePair(context.Background(), e.gateways[0])

	// The cancel must reach the exchange, not just the books.
	if got := conn.cancelled(); len(got) != 1 || got[0] != "stale-1" {
		t.Fatalf("stale order not cancelled on the exchange: %v", got)
	}
	if got := books.ReservedCapital(1); !got.IsZero() {
		t.Fatalf("stale reservation survived the sweep: %s", got)
	}
	order := books.Order(1, "stale-1")
	if order == nil || order.Status != model.OrderStatusCancelled {
		t.Fatalf("stale order not cancelled: %+v", order)
	}
}

func TestEnforcerKeepsReservationWhenCancelFails(t *testing.T) {
	conn := &stubConnector{cancelErr: errors.New("exchange unreachable")}
	positions := newMemPositions()

	e, books := newTestEnforcer(t, conn, positions)

	stale := &model.Order{
		ID:              "stale-2",
		AccountID:       1,
		Exchange:        "stub",
		Symbol:          "AAA_USD",
		Side:            model.SideBuy,
		OrderDir:        model.OrderDirEntry,
		Status:          model.OrderStatusOpen,
		ReservedCapital: decimal.RequireFromString("100"),
		CreatedAt:       time.Now().Add(-2 * time.Hour),
	}
	if err := books.AddOrder(context.Background(), stale); err != nil {
		t.Fatalf("AddOrder failed: %v", err)
	}

	e.enforcePair(context.Background(), e.gateways[0])

	// The order may still be live on the exchange, so its capital stays held.
	if got := books.ReservedCapital(1); !got.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("reservation released while the exchange order may be live: %s", got)
	}
	order := books.Order(1, "stale-2")
	if order == nil || order.Status != model.OrderStatusOpen {
		t.Fatalf("order state changed without a confirmed cancel: %+v", order)
	}
}

func TestEnforcerRaisesDoubleReservationAlert(t *testing.T) {
	hook := logrustest.NewGlobal()
	defer hook.Reset()

	conn := &stubConnector{}
	positions := newMemPositions(position("p1", "AAA_USD", "500"))

	e, books := newTestEnforcer(t, conn, positions)

	pid := "p1"
	for i, reserved := range []string{"100", "50"} {
		o := &model.Order{
			ID:               fmt.Sprintf("child-%d", i),
			AccountID:        1,
			Exchange:         "stub",
			Symbol:           "AAA_USD",
			Side:             model.SideSell,
			OrderDir:         model.OrderDirExit,
			Status:           model.OrderStatusOpen,
			ReservedCapital:  decimal.RequireFromString(reserved),
			ParentPositionID: &pid,
			CreatedAt:        time.Now(),
		}
		if err := books.AddOrder(context.Background(), o); err != nil {
			t.Fatalf("AddOrder failed: %v", err)
		}
	}

	e.enforcePair(context.Background(), e.gateways[0])

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Message == "double reservation alert" {
			found = true
		}
	}
	if !found {
		t.Fatal("enforcement cycle did not raise the double reservation alert")
	}
}

func placedSet(conn *stubConnector) map[string]bool {
	out := make(map[string]bool)
	for _, p := range conn.placed() {
		out[p] = true
	}
	return out
}
