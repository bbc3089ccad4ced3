package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"riskwatch/internal/service"
)

// RiskEventHandler отдаёт журнал срабатываний SL/TP.
//
// Endpoints:
// - GET /api/v1/risk-events?limit=N - последние события
// - GET /api/v1/positions/{id}/risk-events - события одной позиции
type RiskEventHandler struct {
	events service.RiskEventServiceInterface
}

// NewRiskEventHandler создает новый RiskEventHandler
func NewRiskEventHandler(events service.RiskEventServiceInterface) *RiskEventHandler {
	return &RiskEventHandler{events: events}
}

// GetRecent возвращает последние события, новые первыми.
//
// Query Parameters:
// - limit (optional): по умолчанию 50, максимум 500
//
// Response 400 Bad Request при нечисловом limit.
func (h *RiskEventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "risk event service not initialized", "")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid limit", err.Error())
			return
		}
		limit = parsed
	}

	events, err := h.events.GetRecent(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get risk events", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, events)
}

// GetByPosition возвращает события позиции
func (h *RiskEventHandler) GetByPosition(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "risk event service not initialized", "")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid position id", "")
		return
	}

	events, err := h.events.GetByPosition(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get risk events", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, events)
}
