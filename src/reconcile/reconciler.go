package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"executioncore/src/connectors"
	"executioncore/src/model"
)

// PositionStore is satisfied by repository.PositionRepository.
type PositionStore interface {
	Save(ctx context.Context, pos *model.Position) error
	FindOpenBySymbol(ctx context.Context, accountID uint, exchange, symbol string) (*model.Position, error)
}

// ZombieStore is satisfied by repository.ZombieRepository.
type ZombieStore interface {
	Upsert(ctx context.Context, z *model.ZombieAsset) error
	Find(ctx context.Context, accountID uint, exchange, symbol string) (*model.ZombieAsset, error)
	Remove(ctx context.Context, accountID uint, exchange, symbol string) error
}

// PriceCache is an optional passive quote source (the websocket price
// stream). Blacklisted symbols are only re-attempted through it, never
// through active lookups.
type PriceCache interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Failure is one position the reconciler could not adopt.
type Failure struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Adopted        []model.Position `json:"adopted"`
	Failed         []Failure        `json:"failed"`
	AlreadyTracked int              `json:"already_tracked"`
}

// Reconciler diffs exchange-reported positions against local state. After
// any restart every position on the exchange ends up either under
// management again or explicitly quarantined; none are silently orphaned.
type Reconciler struct {
	positions PositionStore
	zombies   ZombieStore
	cache     PriceCache
}

func New(positions PositionStore, zombies ZombieStore, cache PriceCache) *Reconciler {
	return &Reconciler{positions: positions, zombies: zombies, cache: cache}
}

// Reconcile adopts or quarantines every position the exchange reports for
// one (account, connection) pair. Adoption is at-most-once per (account,
// symbol): positions already tracked are left untouched, so re-running on an
// unchanged set is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, accountID uint, conn connectors.ExchangeConnector) (*Report, error) {
	raws, err := conn.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange positions: %w", err)
	}

	report := &Report{}
	exchange := conn.Name()

	for _, raw := range raws {
		if !raw.Quantity.IsPositive() {
			report.Failed = append(report.Failed, Failure{
				Symbol: raw.Symbol,
				Reason: model.ZombieReasonQuantityUnavailable,
				Detail: "exchange reported non-positive quantity",
			})
			r.quarantine(ctx, accountID, exchange, raw.Symbol, model.ZombieReasonQuantityUnavailable, "non-positive quantity")
			continue
		}

		existing, err := r.positions.FindOpenBySymbol(ctx, accountID, exchange, raw.Symbol)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			report.AlreadyTracked++
			continue
		}

		price, failure := r.resolvePrice(ctx, accountID, exchange, conn, raw.Symbol)
		if failure != nil {
			report.Failed = append(report.Failed, *failure)
			continue
		}

		entry := price
		if raw.EntryPriceKnown && raw.EntryPrice.IsPositive() {
			entry = raw.EntryPrice
		}

		pos := model.Position{
			ID:         uuid.NewString(),
			AccountID:  accountID,
			Exchange:   exchange,
			Symbol:     raw.Symbol,
			Side:       raw.Side,
			EntryPrice: entry,
			Quantity:   raw.Quantity,
			QuoteSize:  entry.Mul(raw.Quantity),
			Source:     model.PositionSourceAdopted,
			Status:     model.PositionStatusOpen,
			OpenedAt:   time.Now().UTC(),
		}

		if err := r.positions.Save(ctx, &pos); err != nil {
			return nil, fmt.Errorf("failed to persist adopted position %s: %w", raw.Symbol, err)
		}

		// A successful lookup lifts any earlier quarantine.
		if err := r.zombies.Remove(ctx, accountID, exchange, raw.Symbol); err != nil {
			logger.WithError(err).WithField("symbol", raw.Symbol).
				Warn("failed to clear zombie entry after successful adoption")
		}

		logger.WithFields(map[string]interface{}{
			"account_id": accountID,
			"exchange":   exchange,
			"symbol":     raw.Symbol,
			"qty":        raw.Quantity.String(),
			"entry":      entry.String(),
		}).Info("position adopted from exchange state")

		report.Adopted = append(report.Adopted, pos)
	}

	return report, nil
}

// resolvePrice finds a current price for adoption. Blacklisted symbols only
// consult the passive cache; fresh symbols fall back to the connector and
// are quarantined when the lookup fails.
func (r *Reconciler) resolvePrice(ctx context.Context, accountID uint, exchange string, conn connectors.ExchangeConnector, symbol string) (decimal.Decimal, *Failure) {
	if r.cache != nil {
		if price, ok := r.cache.Price(symbol); ok {
			return price, nil
		}
	}

	zombie, err := r.zombies.Find(ctx, accountID, exchange, symbol)
	if err == nil && zombie != nil {
		// Known-bad symbol: do not re-fail the active lookup every cycle.
		return decimal.Zero, &Failure{
			Symbol: symbol,
			Reason: zombie.Reason,
			Detail: "symbol is quarantined",
		}
	}

	price, err := conn.GetPrice(ctx, symbol)
	if err != nil {
		reason := model.ZombieReasonPriceUnavailable
		if errors.Is(err, connectors.ErrUnsupportedSymbol) {
			reason = model.ZombieReasonUnsupportedSymbol
		}

		r.quarantine(ctx, accountID, exchange, symbol, reason, err.Error())

		return decimal.Zero, &Failure{
			Symbol: symbol,
			Reason: reason,
			Detail: err.Error(),
		}
	}

	return price, nil
}

func (r *Reconciler) quarantine(ctx context.Context, accountID uint, exchange, symbol, reason, detail string) {
	logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"exchange":   exchange,
		"symbol":     symbol,
		"reason":     reason,
	}).Warn("symbol quarantined as zombie asset")

	err := r.zombies.Upsert(ctx, &model.ZombieAsset{
		AccountID: accountID,
		Exchange:  exchange,
		Symbol:    symbol,
		Reason:    reason,
		Detail:    detail,
	})
	if err != nil {
		logger.WithError(err).WithField("symbol", symbol).
			Error("failed to persist zombie asset entry")
	}
}
