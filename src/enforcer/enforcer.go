package enforcer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"executioncore/src/gateway"
	"executioncore/src/ledger"
	"executioncore/src/model"
)

// PositionStore is satisfied by repository.PositionRepository.
type PositionStore interface {
	FindOpen(ctx context.Context, accountID uint, exchange string) ([]model.Position, error)
}

// Enforcer is the independently scheduled safety net. It re-asserts the
// open-position cap and the forced-unwind policy on its own loop, isolated
// from the decision loop's error handling: a wedged or crashing strategy
// cycle never stops enforcement.
type Enforcer struct {
	cfg      Config
	warnFrac decimal.Decimal

	gateways  []*gateway.Gateway
	positions PositionStore
	books     *ledger.Ledger

	mu     sync.Mutex
	unwind map[uint]bool
}

func New(gateways []*gateway.Gateway, positions PositionStore, books *ledger.Ledger) *Enforcer {
	cfg := GetConfig()

	warnFrac, err := decimal.NewFromString(cfg.FragmentationWarnFraction)
	if err != nil {
		warnFrac = decimal.RequireFromString("0.30")
	}

	return &Enforcer{
		cfg:       cfg,
		warnFrac:  warnFrac,
		gateways:  gateways,
		positions: positions,
		books:     books,
		unwind:    make(map[uint]bool),
	}
}

// SetForcedUnwind flips the per-account override that routes every open
// position through exit regardless of P&L.
func (e *Enforcer) SetForcedUnwind(accountID uint, on bool, reason string) {
	e.mu.Lock()
	e.unwind[accountID] = on
	e.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"active":     on,
		"reason":     reason,
	}).Warn("forced unwind flag changed")
}

// ForcedUnwind reports the current flag for an account.
func (e *Enforcer) ForcedUnwind(accountID uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unwind[accountID]
}

// Run executes enforcement cycles until ctx is cancelled. Each cycle is
// wrapped in its own recovery so one bad pair cannot take the loop down.
func (e *Enforcer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	logger.WithField("interval", e.cfg.Interval.String()).Info("exit enforcer started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("exit enforcer stopped")
			return
		case <-ticker.C:
			for _, gw := range e.gateways {
				e.enforcePair(ctx, gw)
			}
		}
	}
}

// enforcePair runs one enforcement pass for one (account, exchange) pair.
func (e *Enforcer) enforcePair(ctx context.Context, gw *gateway.Gateway) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"account_id": gw.AccountID(),
				"exchange":   gw.Exchange(),
				"panic":      r,
			}).Error("enforcement cycle panicked")
		}
	}()

	accountID := gw.AccountID()

	open, err := e.positions.FindOpen(ctx, accountID, gw.Exchange())
	if err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"account_id": accountID,
			"exchange":   gw.Exchange(),
		}).Error("enforcement could not list open positions")
		return
	}

	if e.ForcedUnwind(accountID) {
		e.exitAll(ctx, gw, open, "forced unwind active")
	} else if excess := len(open) - e.cfg.MaxOpenPositions; excess > 0 {
		e.exitExcess(ctx, gw, open, excess)
	}

	e.housekeeping(ctx, gw, open)
}

// exitExcess closes the smallest-value positions over the cap. Smallest
// first: they cost the least to liquidate and restore the cap fastest.
func (e *Enforcer) exitExcess(ctx context.Context, gw *gateway.Gateway, open []model.Position, excess int) {
	logger.WithFields(map[string]interface{}{
		"account_id": gw.AccountID(),
		"exchange":   gw.Exchange(),
		"open":       len(open),
		"cap":        e.cfg.MaxOpenPositions,
	}).Warn("position cap exceeded, closing excess")

	sorted := make([]model.Position, len(open))
	copy(sorted, open)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].QuoteSize.LessThan(sorted[j].QuoteSize)
	})

	e.exitAll(ctx, gw, sorted[:excess], "position cap enforcement")
}

func (e *Enforcer) exitAll(ctx context.Context, gw *gateway.Gateway, positions []model.Position, why string) {
	for _, pos := range positions {
		side := model.SideSell
		if pos.Side == model.SideSell {
			side = model.SideBuy
		}

		_, err := gw.SubmitExit(ctx, gateway.ExitRequest{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Side:       side,
			Quantity:   pos.Quantity,
			Force:      true,
		})
		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"account_id": gw.AccountID(),
				"symbol":     pos.Symbol,
				"reason":     why,
			}).Error("forced exit failed, position remains open")
			continue
		}

		logger.WithFields(map[string]interface{}{
			"account_id": gw.AccountID(),
			"symbol":     pos.Symbol,
			"reason":     why,
		}).Warn("position force-closed by enforcer")
	}
}

// housekeeping sweeps stale orders, which have a remedy, and raises the
// integrity alerts that do not.
func (e *Enforcer) housekeeping(ctx context.Context, gw *gateway.Gateway, open []model.Position) {
	accountID := gw.AccountID()

	e.sweepStale(ctx, gw)

	for _, pos := range open {
		if dup, detail := e.books.CheckDoubleReservation(accountID, pos.ID); dup {
			// No safe automatic remedy; surfaced for operator action.
			logger.WithFields(map[string]interface{}{
				"account_id":  accountID,
				"position_id": pos.ID,
				"detail":      detail,
			}).Error("double reservation alert")
		}
	}

	balance, err := gw.Connector().GetBalance(ctx)
	if err != nil {
		logger.WithError(err).WithField("account_id", accountID).
			Warn("fragmentation check skipped, balance unavailable")
		return
	}

	if frag, explanation := e.books.DetectFragmentation(accountID, balance, e.warnFrac); frag {
		logger.WithFields(map[string]interface{}{
			"account_id": accountID,
			"detail":     explanation,
		}).Error("capital fragmentation alert")
	}
}

// sweepStale cancels orders that outlived the configured age. The cancel goes
// to the exchange first; the reservation is released only once the order is
// confirmed gone remotely, so the books never stop counting capital an order
// still holds on the exchange.
func (e *Enforcer) sweepStale(ctx context.Context, gw *gateway.Gateway) {
	accountID := gw.AccountID()

	if n := e.books.CleanupStale(ctx, accountID, e.cfg.StaleOrderMaxAge, false); n == 0 {
		return
	}

	cutoff := time.Now().Add(-e.cfg.StaleOrderMaxAge)
	for _, o := range e.books.OpenOrders(accountID) {
		if !o.CreatedAt.Before(cutoff) {
			continue
		}

		ok, err := gw.CancelOrder(ctx, o.ID)
		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"account_id": accountID,
				"order_id":   o.ID,
			}).Error("stale order cancel failed, reservation kept")
			continue
		}
		if !ok {
			// Already gone on the exchange; just release the reservation.
			e.books.MarkCancelled(ctx, accountID, o.ID)
		}

		logger.WithFields(map[string]interface{}{
			"account_id": accountID,
			"order_id":   o.ID,
			"age":        time.Since(o.CreatedAt).String(),
		}).Warn("stale order cancelled")
	}
}
