package orchestrator

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"executioncore/src/gateway"
	"executioncore/src/model"
	"executioncore/src/reconcile"
	"executioncore/src/state"
)

// Intent is one opaque instruction from the strategy layer: open this much
// size in this direction, or close this position. How the numbers were
// decided is not the core's business.
type Intent struct {
	Action        string // "open" or "close"
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	ExpectedPrice decimal.Decimal
	PositionID    string
}

const (
	IntentOpen  = "open"
	IntentClose = "close"
)

// Strategy is the pluggable decision layer. It is consulted once per cycle
// per (account, exchange) pair.
type Strategy interface {
	Decide(ctx context.Context, accountID uint, exchange string) ([]Intent, error)
}

// Pair binds one account's link to one exchange with its gateway.
type Pair struct {
	Account model.Account
	Link    model.ExchangeLink
	Gateway *gateway.Gateway
}

// Orchestrator owns one long-running runner per (account, exchange) pair and
// supervises their lifecycle. A failure in one pair is contained to that
// pair: the runner logs, backs off and resumes, and never terminates the
// process or touches its siblings.
type Orchestrator struct {
	cfg        Config
	minBalance decimal.Decimal

	machine    *state.Machine
	reconciler *reconcile.Reconciler
	strategy   Strategy
	pairs      []Pair

	wg sync.WaitGroup
}

func New(machine *state.Machine, reconciler *reconcile.Reconciler, strategy Strategy, pairs []Pair) *Orchestrator {
	cfg := GetConfig()

	minBalance, err := decimal.NewFromString(cfg.MinBalance)
	if err != nil {
		minBalance = decimal.NewFromInt(10)
	}

	return &Orchestrator{
		cfg:        cfg,
		minBalance: minBalance,
		machine:    machine,
		reconciler: reconciler,
		strategy:   strategy,
		pairs:      pairs,
	}
}

// DetectFundedPairs reports the available balance of every pair whose
// balance clears the minimum. Only funded pairs are eligible to run.
func (o *Orchestrator) DetectFundedPairs(ctx context.Context) map[string]map[string]decimal.Decimal {
	funded := make(map[string]map[string]decimal.Decimal)

	for _, pair := range o.pairs {
		balance, err := pair.Gateway.Connector().GetBalance(ctx)
		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"account": pair.Account.Name,
				"exchange": pair.Link.Exchange,
			}).Warn("funded-pair detection: balance unavailable")
			continue
		}

		if balance.LessThan(o.minBalance) {
			continue
		}

		if funded[pair.Account.Name] == nil {
			funded[pair.Account.Name] = make(map[string]decimal.Decimal)
		}
		funded[pair.Account.Name][pair.Link.Exchange] = balance
	}

	return funded
}

// Start reconciles every pair, then launches one runner goroutine per
// funded pair. Runners stop when ctx is cancelled; each finishes its
// in-flight exchange call first.
func (o *Orchestrator) Start(ctx context.Context) {
	funded := o.DetectFundedPairs(ctx)

	for i := range o.pairs {
		pair := o.pairs[i]

		// Startup adoption: every exchange position is either under
		// management or visibly quarantined before trading begins.
		report, err := o.reconciler.Reconcile(ctx, pair.Account.ID, pair.Gateway.Connector())
		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"account":  pair.Account.Name,
				"exchange": pair.Link.Exchange,
			}).Error("startup reconciliation failed")
		} else {
			logger.WithFields(map[string]interface{}{
				"account":         pair.Account.Name,
				"exchange":        pair.Link.Exchange,
				"adopted":         len(report.Adopted),
				"failed":          len(report.Failed),
				"already_tracked": report.AlreadyTracked,
			}).Info("startup reconciliation complete")
		}

		if _, ok := funded[pair.Account.Name][pair.Link.Exchange]; !ok {
			logger.WithFields(map[string]interface{}{
				"account":  pair.Account.Name,
				"exchange": pair.Link.Exchange,
			}).Warn("pair not funded, runner not started")
			continue
		}

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runPair(ctx, pair)
		}()
	}
}

// Wait blocks until every runner has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
