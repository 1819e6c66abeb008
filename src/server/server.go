package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"executioncore/src/enforcer"
	"executioncore/src/ledger"
	"executioncore/src/repository"
	"executioncore/src/state"
)

// Deps are the core components the operator surface drives.
type Deps struct {
	Machine  *state.Machine
	Enforcer *enforcer.Enforcer
	Books    *ledger.Ledger
	Zombies  *repository.ZombieRepository
}

// StartServer runs the admin HTTP surface until SIGINT/SIGTERM, then shuts
// down gracefully.
func StartServer(port string, deps Deps) {
	r := NewRouter(deps)

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("admin server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("admin server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down admin server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("admin server shutdown error")
	}
}

// NewRouter builds the operator routes. Every mutating operation requires a
// human-readable reason; it is always recorded in the transition log.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, req *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	h := &handlers{deps: deps}

	r.Route("/state", func(r chi.Router) {
		r.Get("/", h.currentState)
		r.Post("/transition", h.transition)
		r.Post("/confirm-live", h.confirmLive)
		r.Post("/restore-safe-mode", h.restoreSafeMode)
	})

	r.Route("/killswitch", func(r chi.Router) {
		r.Post("/activate", h.activateKillSwitch)
		r.Post("/deactivate", h.deactivateKillSwitch)
	})

	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/stats", h.accountStats)
		r.Get("/zombies", h.accountZombies)
		r.Post("/unwind", h.setUnwind)
	})

	return r
}
