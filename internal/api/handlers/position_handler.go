package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"riskwatch/internal/bot"
	"riskwatch/internal/models"
	"riskwatch/internal/repository"
)

// positionView - позиция с описанием статуса для оператора
type positionView struct {
	*models.Position
	StatusInfo string `json:"status_info"`
}

func newPositionView(pos *models.Position) positionView {
	return positionView{Position: pos, StatusInfo: bot.StatusInfo(pos.Status)}
}

// PositionReader - чтение позиций для оператора
type PositionReader interface {
	GetExitPending(ctx context.Context) ([]*models.Position, error)
	GetByID(ctx context.Context, id int64) (*models.Position, error)
}

// PositionHandler показывает позиции, ожидающие выхода.
//
// Endpoints:
// - GET /api/v1/positions/exit-pending
// - GET /api/v1/positions/{id}
type PositionHandler struct {
	positions PositionReader
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(positions PositionReader) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// GetExitPending возвращает позиции в статусе exit_pending
func (h *PositionHandler) GetExitPending(w http.ResponseWriter, r *http.Request) {
	if h.positions == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "position store not initialized", "")
		return
	}

	positions, err := h.positions.GetExitPending(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get positions", err.Error())
		return
	}
	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, newPositionView(pos))
	}

	respondWithJSON(w, http.StatusOK, views)
}

// GetPosition возвращает позицию по id
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	if h.positions == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "position store not initialized", "")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid position id", "")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPositionNotFound) {
			respondWithError(w, http.StatusNotFound, CodeNotFound, "position not found", "")
			return
		}
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get position", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, newPositionView(pos))
}
