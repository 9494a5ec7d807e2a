package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/store"
	"github.com/your-org/ledger-sniper-bot/internal/trader"
)

// TraderRegistry starts and stops trade loops.
type TraderRegistry interface {
	Start(ctx context.Context, userID, mint string) error
	Stop(ctx context.Context, userID, mint string) error
	IsRunning(key trader.Key) bool
}

// StateLister lists persisted trader records.
type StateLister interface {
	List(ctx context.Context) ([]store.TraderState, error)
}

// TradersHandler manages trade loops over HTTP.
type TradersHandler struct {
	registry TraderRegistry
	states   StateLister
	logger   *zap.Logger
}

// NewTradersHandler creates a new TradersHandler.
func NewTradersHandler(registry TraderRegistry, states StateLister, logger *zap.Logger) *TradersHandler {
	return &TradersHandler{registry: registry, states: states, logger: logger}
}

// RegisterRoutes registers the trader routes on r.
func (h *TradersHandler) RegisterRoutes(r chi.Router) {
	r.Get("/traders", h.ListTraders)
	r.Post("/traders", h.StartTrader)
	r.Delete("/traders/{user}/{mint}", h.StopTrader)
}

type traderView struct {
	State   store.TraderState `json:"state"`
	Running bool              `json:"running"`
}

// ListTraders returns every persisted loop with its running flag.
func (h *TradersHandler) ListTraders(w http.ResponseWriter, r *http.Request) {
	states, err := h.states.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list traders", zap.Error(err))
		http.Error(w, "Failed to list traders", http.StatusInternalServerError)
		return
	}
	views := make([]traderView, 0, len(states))
	for _, s := range states {
		views = append(views, traderView{
			State:   s,
			Running: h.registry.IsRunning(trader.Key{UserID: s.UserID, Mint: s.Mint}),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type startRequest struct {
	UserID string `json:"userId"`
	Mint   string `json:"mint"`
}

// StartTrader starts the loop named in the body.
func (h *TradersHandler) StartTrader(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Mint == "" {
		http.Error(w, "userId and mint are required", http.StatusBadRequest)
		return
	}
	err := h.registry.Start(r.Context(), req.UserID, req.Mint)
	switch {
	case errors.Is(err, trader.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("Failed to start trader", zap.String("user", req.UserID), zap.String("mint", req.Mint), zap.Error(err))
		http.Error(w, "Failed to start trader", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, trader.Key{UserID: req.UserID, Mint: req.Mint})
}

// StopTrader stops a loop and deletes its record.
func (h *TradersHandler) StopTrader(w http.ResponseWriter, r *http.Request) {
	user, mint := chi.URLParam(r, "user"), chi.URLParam(r, "mint")
	err := h.registry.Stop(r.Context(), user, mint)
	switch {
	case errors.Is(err, trader.ErrNotRunning):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("Failed to stop trader", zap.String("user", user), zap.String("mint", mint), zap.Error(err))
		http.Error(w, "Failed to stop trader", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
