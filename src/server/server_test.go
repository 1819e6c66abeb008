package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"executioncore/src/enforcer"
	"executioncore/src/ledger"
	"executioncore/src/model"
	"executioncore/src/repository"
	"executioncore/src/state"
)

type memStateStore struct {
	log  []model.StateTransition
	flag *model.KillSwitchFlag
}

func (s *memStateStore) AppendTransition(_ context.Context, t *model.StateTransition) error {
	s.log = append(s.log, *t)
	return nil
}

func (s *memStateStore) LatestTransition(_ context.Context) (*model.StateTransition, error) {
	if len(s.log) == 0 {
		return nil, nil
	}
	last := s.log[len(s.log)-1]
	return &last, nil
}

func (s *memStateStore) KillSwitch(_ context.Context) (*model.KillSwitchFlag, error) {
	return s.flag, nil
}

func (s *memStateStore) SetKillSwitch(_ context.Context, active bool, reason, actor string) error {
	s.flag = &model.KillSwitchFlag{Active: active, Reason: reason, UpdatedBy: actor}
	return nil
}

func newTestDeps(t *testing.T) (Deps, sqlmock.Sqlmock) {
	t.Helper()

	machine, err := state.NewMachine(context.Background(), &memStateStore{})
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	books := ledger.New(nil)

	return Deps{
		Machine:  machine,
		Enforcer: enforcer.New(nil, nil, books),
		Books:    books,
		Zombies:  repository.NewZombieRepository().WithDB(gdb),
	}, mock
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthcheck(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doJSON(t, router, http.MethodGet, "/healthcheck", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected healthcheck response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStateEndpoints(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	t.Run("initial state is OFF", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/state", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", rec.Code)
		}

		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if resp["state"] != string(model.StateOff) {
			t.Fatalf("expected OFF, got %q", resp["state"])
		}
	})

	t.Run("transition without reason is refused", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/state/transition", map[string]string{
			"to": string(model.StateDryRun),
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("missing reason accepted with status %d", rec.Code)
		}
	})

	t.Run("transition with reason succeeds", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/state/transition", map[string]string{
			"to":     string(model.StateDryRun),
			"reason": "warming up",
			"actor":  "ops",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("valid transition refused: %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("invalid transition conflicts", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/state/transition", map[string]string{
			"to":     string(model.StateLiveActive),
			"reason": "shortcut",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("direct jump to LIVE_ACTIVE got status %d", rec.Code)
		}
	})

	t.Run("confirm live flow", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/state/transition", map[string]string{
			"to":     string(model.StateLivePendingConfirmation),
			"reason": "ready",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("transition to pending refused: %d", rec.Code)
		}

		rec = doJSON(t, router, http.MethodPost, "/state/confirm-live", map[string]string{
			"reason": "manual confirmation",
			"actor":  "ops",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("confirm-live refused: %d %s", rec.Code, rec.Body.String())
		}

		var resp map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp["state"] != string(model.StateLiveActive) {
			t.Fatalf("expected LIVE_ACTIVE, got %q", resp["state"])
		}
	})
}

func TestKillSwitchEndpoints(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doJSON(t, router, http.MethodPost, "/killswitch/activate", map[string]string{
		"reason": "runaway strategy",
		"actor":  "ops",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("activation refused: %d %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["state"] != string(model.StateEmergencyStop) {
		t.Fatalf("expected EMERGENCY_STOP after activation, got %q", resp["state"])
	}

	rec = doJSON(t, router, http.MethodPost, "/killswitch/deactivate", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("deactivation without reason accepted: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/killswitch/deactivate", map[string]string{
		"reason": "books verified",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivation refused: %d", rec.Code)
	}
}

func TestAccountEndpoints(t *testing.T) {
	deps, mock := newTestDeps(t)
	router := NewRouter(deps)

	t.Run("stats", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/accounts/1/stats", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("stats refused: %d", rec.Code)
		}

		var stats ledger.Stats
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			t.Fatalf("bad stats JSON: %v", err)
		}
		if stats.AccountID != 1 {
			t.Fatalf("stats for account %d, expected 1", stats.AccountID)
		}
	})

	t.Run("invalid account id", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/accounts/abc/stats", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("bad account id accepted: %d", rec.Code)
		}
	})

	t.Run("zombies", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "account_id", "exchange", "symbol", "reason"}).
			AddRow(1, 1, "kraken-futures", "WEIRD_COIN", model.ZombieReasonPriceUnavailable)
		mock.ExpectQuery(`SELECT \* FROM "zombie_assets" WHERE account_id = \$1`).
			WillReturnRows(rows)

		rec := doJSON(t, router, http.MethodGet, "/accounts/1/zombies", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("zombies refused: %d %s", rec.Code, rec.Body.String())
		}

		var zombies []model.ZombieAsset
		if err := json.Unmarshal(rec.Body.Bytes(), &zombies); err != nil {
			t.Fatalf("bad zombies JSON: %v", err)
		}
		if len(zombies) != 1 || zombies[0].Symbol != "WEIRD_COIN" {
			t.Fatalf("unexpected zombies payload: %+v", zombies)
		}
	})

	t.Run("forced unwind toggle", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/1/unwind", map[string]interface{}{
			"active": true,
			"reason": "draining account",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("unwind toggle refused: %d", rec.Code)
		}
		if !deps.Enforcer.ForcedUnwind(1) {
			t.Fatal("unwind flag not set on enforcer")
		}
	})
}
