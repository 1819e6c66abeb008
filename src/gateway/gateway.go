package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"executioncore/src/connectors"
	"executioncore/src/ledger"
	"executioncore/src/model"
	"executioncore/src/sequence"
)

// ErrInsufficientBalance refuses an entry whose cost exceeds the account's
// available balance plus the safety margin. Exits are never subject to it.
var ErrInsufficientBalance = errors.New("insufficient balance for entry")

// RejectedError reports an entry that filled so far from its expected price
// that the gateway unwound it immediately.
type RejectedError struct {
	OrderID      string
	Expected     decimal.Decimal
	Filled       decimal.Decimal
	Slippage     decimal.Decimal
	RealizedLoss decimal.Decimal
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("entry %s rejected: slippage %s%% exceeded tolerance, realized loss %s",
		e.OrderID, e.Slippage.Mul(decimal.NewFromInt(100)).StringFixed(3), e.RealizedLoss.String())
}

// PositionStore persists positions opened and closed through the gateway.
// Satisfied by repository.PositionRepository.
type PositionStore interface {
	Save(ctx context.Context, pos *model.Position) error
	Close(ctx context.Context, id string) error
}

// EntryRequest opens new exposure.
type EntryRequest struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	ExpectedPrice decimal.Decimal
}

// ExitRequest reduces or closes exposure. Force bypasses every entry-side
// filter; it exists for the exit enforcer and forced unwinds.
type ExitRequest struct {
	PositionID string
	Symbol     string
	Side       string
	Quantity   decimal.Decimal
	Force      bool
}

// Fill is a confirmed execution.
type Fill struct {
	OrderID    string
	PositionID string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
}

// Gateway serializes and validates every order for one (account, exchange)
// connection. It is the only component that talks to the connector for
// placements and cancels; reconciliation and enforcement route through it.
type Gateway struct {
	accountID uint
	exchange  string

	conn      connectors.ExchangeConnector
	seq       *sequence.Generator
	books     *ledger.Ledger
	positions PositionStore

	maxSlippage  decimal.Decimal
	safetyMargin decimal.Decimal
	callTimeout  time.Duration
}

func New(accountID uint, exchange string, conn connectors.ExchangeConnector, seq *sequence.Generator, books *ledger.Ledger, positions PositionStore) *Gateway {
	cfg := GetConfig()

	maxSlippage, err := decimal.NewFromString(cfg.MaxSlippageFraction)
	if err != nil {
		maxSlippage = decimal.RequireFromString("0.005")
	}
	margin, err := decimal.NewFromString(cfg.BalanceSafetyMargin)
	if err != nil {
		margin = decimal.RequireFromString("0.01")
	}

	return &Gateway{
		accountID:    accountID,
		exchange:     exchange,
		conn:         conn,
		seq:          seq,
		books:        books,
		positions:    positions,
		maxSlippage:  maxSlippage,
		safetyMargin: margin,
		callTimeout:  cfg.CallTimeout,
	}
}

// AccountID returns the account this gateway serves.
func (g *Gateway) AccountID() uint { return g.accountID }

// Exchange returns the exchange this gateway serves.
func (g *Gateway) Exchange() string { return g.exchange }

// Connector exposes the underlying adapter for read-only queries.
func (g *Gateway) Connector() connectors.ExchangeConnector { return g.conn }

// SubmitEntry places an entry order and validates its fill. The whole
// build-sign-send-receive sequence runs under the credential scope's call
// lock. Ledger and position mutations happen only after the exchange
// confirmed the order.
func (g *Gateway) SubmitEntry(ctx context.Context, req EntryRequest) (*Fill, error) {
	cost := req.ExpectedPrice.Mul(req.Quantity)

	balance, err := g.conn.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("balance check failed: %w", err)
	}

	allowance := balance.Sub(g.books.ReservedCapital(g.accountID)).
		Mul(decimal.NewFromInt(1).Add(g.safetyMargin))
	if cost.GreaterThan(allowance) {
		logger.WithFields(map[string]interface{}{
			"account_id": g.accountID,
			"exchange":   g.exchange,
			"symbol":     req.Symbol,
			"cost":       cost.String(),
			"balance":    balance.String(),
		}).Warn("entry refused: would exceed available balance")
		return nil, ErrInsufficientBalance
	}

	result, seq, err := g.placeLocked(ctx, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		return nil, err
	}

	positionID := uuid.NewString()
	order := &model.Order{
		ID:                uuid.NewString(),
		AccountID:         g.accountID,
		Exchange:          g.exchange,
		Symbol:            req.Symbol,
		Side:              req.Side,
		OrderDir:          model.OrderDirEntry,
		RequestedPrice:    req.ExpectedPrice,
		RequestedQuantity: req.Quantity,
		FilledPrice:       result.FilledPrice,
		Status:            model.OrderStatusPending,
		ReservedCapital:   result.FilledPrice.Mul(result.FilledQuantity),
		Sequence:          seq,
		CreatedAt:         time.Now().UTC(),
	}

	if err := g.books.AddOrder(ctx, order); err != nil {
		logger.WithError(err).Error("failed to register confirmed entry in ledger")
	}

	slip := adverseSlippage(req.Side, req.ExpectedPrice, result.FilledPrice)
	if slip.GreaterThan(g.maxSlippage) {
		return nil, g.unwindBadFill(ctx, order, result, slip)
	}

	g.books.MarkFilled(ctx, g.accountID, order.ID)

	pos := &model.Position{
		ID:         positionID,
		AccountID:  g.accountID,
		Exchange:   g.exchange,
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: result.FilledPrice,
		Quantity:   result.FilledQuantity,
		QuoteSize:  result.FilledPrice.Mul(result.FilledQuantity),
		Source:     model.PositionSourceStrategy,
		Status:     model.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	if err := g.positions.Save(ctx, pos); err != nil {
		logger.WithError(err).WithField("position_id", positionID).
			Error("failed to persist opened position")
	}

	logger.WithFields(map[string]interface{}{
		"account_id":  g.accountID,
		"exchange":    g.exchange,
		"symbol":      req.Symbol,
		"side":        req.Side,
		"filled":      result.FilledPrice.String(),
		"qty":         result.FilledQuantity.String(),
		"position_id": positionID,
	}).Info("entry filled")

	return &Fill{
		OrderID:    order.ID,
		PositionID: positionID,
		Price:      result.FilledPrice,
		Quantity:   result.FilledQuantity,
	}, nil
}

// SubmitExit places an exit order. It follows the same locking and
// sequencing discipline as entries but is never blocked by balance checks:
// its purpose is to reduce risk, so it must always be able to execute.
func (g *Gateway) SubmitExit(ctx context.Context, req ExitRequest) (*Fill, error) {
	result, seq, err := g.placeLocked(ctx, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:                uuid.NewString(),
		AccountID:         g.accountID,
		Exchange:          g.exchange,
		Symbol:            req.Symbol,
		Side:              req.Side,
		OrderDir:          model.OrderDirExit,
		RequestedQuantity: req.Quantity,
		FilledPrice:       result.FilledPrice,
		Status:            model.OrderStatusPending,
		// Exits ride on the capital their position's entry reserved.
		ReservedCapital: decimal.Zero,
		Sequence:        seq,
		CreatedAt:       time.Now().UTC(),
	}
	if req.PositionID != "" {
		pid := req.PositionID
		order.ParentPositionID = &pid
	}

	if err := g.books.AddOrder(ctx, order); err != nil {
		logger.WithError(err).Error("failed to register confirmed exit in ledger")
	}
	g.books.MarkFilled(ctx, g.accountID, order.ID)

	if req.PositionID != "" {
		if err := g.positions.Close(ctx, req.PositionID); err != nil {
			logger.WithError(err).WithField("position_id", req.PositionID).
				Error("failed to persist closed position")
		}
	}

	logger.WithFields(map[string]interface{}{
		"account_id":  g.accountID,
		"exchange":    g.exchange,
		"symbol":      req.Symbol,
		"side":        req.Side,
		"qty":         result.FilledQuantity.String(),
		"filled":      result.FilledPrice.String(),
		"position_id": req.PositionID,
		"force":       req.Force,
	}).Info("exit filled")

	return &Fill{
		OrderID:    order.ID,
		PositionID: req.PositionID,
		Price:      result.FilledPrice,
		Quantity:   result.FilledQuantity,
	}, nil
}

// CancelOrder cancels an exchange order and releases its reservation.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	ok, err := g.conn.CancelOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if ok {
		g.books.MarkCancelled(ctx, g.accountID, orderID)
	}
	return ok, nil
}

// placeLocked runs one market order under the call lock with a fresh
// sequence value, returning the value used so it lands on the audit record.
// The lock is held from before Next() until the exchange response arrives,
// keeping the counter and the call indivisible.
func (g *Gateway) placeLocked(ctx context.Context, symbol, side string, quantity decimal.Decimal) (*connectors.OrderResult, int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	lock := g.seq.Lock()
	if err := lock.Acquire(callCtx); err != nil {
		return nil, 0, fmt.Errorf("exchange call lock: %w", err)
	}
	defer lock.Release()

	seq := g.seq.Next()

	result, err := g.conn.PlaceMarketOrder(callCtx, symbol, side, quantity, seq)
	if err != nil {
		if errors.Is(err, connectors.ErrStaleSequence) {
			// Terminal for this call; a fresh sequence is required and the
			// caller decides whether to try again.
			logger.WithFields(map[string]interface{}{
				"account_id": g.accountID,
				"exchange":   g.exchange,
				"symbol":     symbol,
				"sequence":   seq,
			}).Error("order rejected for stale sequence")
		}
		return nil, 0, err
	}

	return result, seq, nil
}

// unwindBadFill reverses an entry whose fill breached the slippage
// tolerance and reports the realized loss.
func (g *Gateway) unwindBadFill(ctx context.Context, entry *model.Order, result *connectors.OrderResult, slip decimal.Decimal) error {
	logger.WithFields(map[string]interface{}{
		"account_id": g.accountID,
		"exchange":   g.exchange,
		"symbol":     entry.Symbol,
		"expected":   entry.RequestedPrice.String(),
		"filled":     result.FilledPrice.String(),
		"slippage":   slip.String(),
	}).Error("entry slippage exceeded tolerance, unwinding")

	g.books.MarkFilled(ctx, g.accountID, entry.ID)

	offsetSide := model.SideSell
	if entry.Side == model.SideSell {
		offsetSide = model.SideBuy
	}

	offset, offsetSeq, err := g.placeLocked(ctx, entry.Symbol, offsetSide, result.FilledQuantity)
	if err != nil {
		// The bad fill is now an unmanaged exposure; that is exactly what
		// the reconciler adopts on its next run. Never hide it.
		logger.WithFields(map[string]interface{}{
			"account_id": g.accountID,
			"symbol":     entry.Symbol,
		}).WithError(err).Error("failed to unwind bad fill, exposure left open")
		return fmt.Errorf("slippage unwind failed: %w", err)
	}

	exit := &model.Order{
		ID:                uuid.NewString(),
		AccountID:         g.accountID,
		Exchange:          g.exchange,
		Symbol:            entry.Symbol,
		Side:              offsetSide,
		OrderDir:          model.OrderDirExit,
		RequestedQuantity: result.FilledQuantity,
		FilledPrice:       offset.FilledPrice,
		Status:            model.OrderStatusPending,
		ReservedCapital:   decimal.Zero,
		Sequence:          offsetSeq,
		CreatedAt:         time.Now().UTC(),
	}
	if err := g.books.AddOrder(ctx, exit); err != nil {
		logger.WithError(err).Error("failed to register unwind exit in ledger")
	}
	g.books.MarkFilled(ctx, g.accountID, exit.ID)

	loss := result.FilledPrice.Sub(offset.FilledPrice).Mul(result.FilledQuantity)
	if entry.Side == model.SideSell {
		loss = loss.Neg()
	}

	return &RejectedError{
		OrderID:      entry.ID,
		Expected:     entry.RequestedPrice,
		Filled:       result.FilledPrice,
		Slippage:     slip,
		RealizedLoss: loss,
	}
}

// adverseSlippage returns how far the fill moved against the caller as a
// fraction of the expected price. Favorable moves return zero.
func adverseSlippage(side string, expected, filled decimal.Decimal) decimal.Decimal {
	if !expected.IsPositive() {
		return decimal.Zero
	}

	diff := filled.Sub(expected)
	if side == model.SideSell {
		diff = diff.Neg()
	}

	if !diff.IsPositive() {
		return decimal.Zero
	}

	return diff.Div(expected)
}
