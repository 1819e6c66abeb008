package trader

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"executioncore/src/connectors"
	"executioncore/src/database"
	"executioncore/src/enforcer"
	"executioncore/src/gateway"
	"executioncore/src/ledger"
	"executioncore/src/orchestrator"
	"executioncore/src/reconcile"
	"executioncore/src/repository"
	"executioncore/src/security"
	"executioncore/src/sequence"
	"executioncore/src/server"
	"executioncore/src/state"
)

// Trader is the long-running execution daemon: one runner per
// (account, exchange) pair, the exit enforcer loop, and the operator HTTP
// surface. Start blocks until SIGINT/SIGTERM.
type Trader struct {
	Strategy orchestrator.Strategy
}

func (t *Trader) Start() error {
	cfg := GetConfig()

	if err := database.InitMainDB(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	books := ledger.New(repository.NewOrderRepository())
	if err := books.LoadSnapshot(ctx); err != nil {
		return fmt.Errorf("load ledger snapshot: %w", err)
	}

	machine, err := state.NewMachine(ctx, repository.NewStateRepository())
	if err != nil {
		return fmt.Errorf("restore trading state machine: %w", err)
	}

	positionRepo := repository.NewPositionRepository()
	zombieRepo := repository.NewZombieRepository()
	registry := sequence.NewRegistry(repository.NewSequenceRepository(), sequence.GetConfig())

	var cache reconcile.PriceCache
	if cfg.PriceStreamURL != "" {
		stream := connectors.NewPriceStream(cfg.PriceStreamURL, cfg.PriceStreamPairs, cfg.PriceStreamMaxAge)
		go stream.Run(ctx)
		cache = stream
	}

	reconciler := reconcile.New(positionRepo, zombieRepo, cache)

	pairs, gateways, err := buildPairs(ctx, registry, books, positionRepo)
	if err != nil {
		return fmt.Errorf("build account/exchange pairs: %w", err)
	}
	if len(pairs) == 0 {
		logger.Warn("no enabled account/exchange pairs configured")
	}

	enf := enforcer.New(gateways, positionRepo, books)
	go enf.Run(ctx)

	strategy := t.Strategy
	if strategy == nil {
		strategy = orchestrator.NoopStrategy{}
	}

	orch := orchestrator.New(machine, reconciler, strategy, pairs)
	orch.Start(ctx)

	// Blocks until SIGINT/SIGTERM, then shuts the operator surface down.
	server.StartServer(cfg.ServerPort, server.Deps{
		Machine:  machine,
		Enforcer: enf,
		Books:    books,
		Zombies:  zombieRepo,
	})

	// Runners finish their in-flight exchange call, then exit.
	cancel()
	orch.Wait()

	logger.Info("trader stopped")
	return nil
}

// buildPairs turns every active account's enabled exchange links into
// gateways. A link with broken credentials or an unknown exchange is skipped
// and logged, never fatal: one bad link must not ground the rest.
func buildPairs(
	ctx context.Context,
	registry *sequence.Registry,
	books *ledger.Ledger,
	positions *repository.PositionRepository,
) ([]orchestrator.Pair, []*gateway.Gateway, error) {
	accounts, err := repository.NewAccountRepository().ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}

	var pairs []orchestrator.Pair
	var gateways []*gateway.Gateway

	for _, account := range accounts {
		for _, link := range account.Links {
			log := logger.WithFields(map[string]interface{}{
				"account":  account.Name,
				"exchange": link.Exchange,
			})

			if link.APIKeyHash == "" || link.APISecretHash == "" {
				log.Error("no valid key/secret set for exchange, pair skipped")
				continue
			}

			apiKey, err := security.DecryptString(link.APIKeyHash)
			if err != nil {
				log.WithError(err).Error("failed to decrypt API key, pair skipped")
				continue
			}
			apiSecret, err := security.DecryptString(link.APISecretHash)
			if err != nil {
				log.WithError(err).Error("failed to decrypt API secret, pair skipped")
				continue
			}

			conn, err := connectors.NewForExchange(link.Exchange, apiKey, apiSecret)
			if err != nil {
				log.WithError(err).Error("failed to build connector, pair skipped")
				continue
			}

			// Links sharing a credential scope share one generator; the
			// exchange counts requests per credential, not per connection.
			gen, err := registry.ForScope(ctx, link.CredentialScope)
			if err != nil {
				return nil, nil, fmt.Errorf("sequence generator for scope %s: %w", link.CredentialScope, err)
			}

			gw := gateway.New(account.ID, link.Exchange, conn, gen, books, positions)

			pairs = append(pairs, orchestrator.Pair{Account: account, Link: link, Gateway: gw})
			gateways = append(gateways, gw)
		}
	}

	return pairs, gateways, nil
}
