package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/sniper"
)

const maxEventBytes = 1 << 20

// Ingester is the part of the sniper the event routes drive.
type Ingester interface {
	IngestJSON(data []byte) ([]sniper.Verdict, error)
	Evaluate(mint string, aux bool) sniper.Verdict
}

// EventsHandler accepts collector events and serves asset signals.
type EventsHandler struct {
	ingester Ingester
	logger   *zap.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(ingester Ingester, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{ingester: ingester, logger: logger}
}

// RegisterRoutes registers the event routes on r.
func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.PostEvent)
	r.Get("/signals/{mint}", h.GetSignal)
}

type ingestResponse struct {
	Accepted bool             `json:"accepted"`
	Verdicts []sniper.Verdict `json:"verdicts"`
}

// PostEvent ingests one collector payload. A payload without an ordering
// unit is acknowledged and dropped.
func (h *EventsHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Failed to read event body", http.StatusRequestEntityTooLarge)
		return
	}
	verdicts, err := h.ingester.IngestJSON(body)
	if err != nil {
		h.logger.Debug("Dropped malformed event", zap.Error(err))
		http.Error(w, "Malformed event", http.StatusBadRequest)
		return
	}
	if verdicts == nil {
		verdicts = []sniper.Verdict{}
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: len(verdicts) > 0, Verdicts: verdicts})
}

// GetSignal scores a mint against the current window. ?aux=true adds the
// auxiliary flag.
func (h *EventsHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	mint := chi.URLParam(r, "mint")
	aux := false
	if raw := r.URL.Query().Get("aux"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "aux must be a boolean", http.StatusBadRequest)
			return
		}
		aux = v
	}
	writeJSON(w, http.StatusOK, h.ingester.Evaluate(mint, aux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
