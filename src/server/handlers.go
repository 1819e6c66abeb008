package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"executioncore/src/model"
)

type handlers struct {
	deps Deps
}

type reasonRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type transitionRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type unwindRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeWithReason parses the body and enforces the mandatory reason.
func decodeWithReason(w http.ResponseWriter, r *http.Request, v interface{}, reason func() string) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if reason() == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return false
	}
	return true
}

func (h *handlers) currentState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"state": string(h.deps.Machine.Current(r.Context())),
	})
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeWithReason(w, r, &req, func() string { return req.Reason }) {
		return
	}

	err := h.deps.Machine.Transition(r.Context(), model.TradingState(req.To), req.Reason, req.Actor)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.currentState(w, r)
}

func (h *handlers) confirmLive(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeWithReason(w, r, &req, func() string { return req.Reason }) {
		return
	}

	if err := h.deps.Machine.ConfirmLive(r.Context(), req.Reason, req.Actor); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.currentState(w, r)
}

func (h *handlers) restoreSafeMode(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeWithReason(w, r, &req, func() string { return req.Reason }) {
		return
	}

	if err := h.deps.Machine.RestoreSafeMode(r.Context(), req.Reason, req.Actor); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.currentState(w, r)
}

func (h *handlers) activateKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeWithReason(w, r, &req, func() string { return req.Reason }) {
		return
	}

	if err := h.deps.Machine.ActivateKillSwitch(r.Context(), req.Reason, req.Actor); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.currentState(w, r)
}

func (h *handlers) deactivateKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeWithReason(w, r, &req, func() string { return req.Reason }) {
		return
	}

	if err := h.deps.Machine.DeactivateKillSwitch(r.Context(), req.Reason, req.Actor); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.currentState(w, r)
}

func (h *handlers) accountID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "accountID")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return uint(id), true
}

func (h *handlers) accountStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Books.AccountStats(id))
}

func (h *handlers) accountZombies(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	zombies, err := h.deps.Zombies.List(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, zombies)
}

func (h *handlers) setUnwind(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req unwindRequest
	if !decodeWithReason(w, r, &req, func() string { return req.Reason }) {
		return
	}

	h.deps.Enforcer.SetForcedUnwind(id, req.Active, req.Reason)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"unwind":     req.Active,
	})
}
