package handlers

import (
	"net/http"

	"riskwatch/internal/bot"
)

// StatusProvider - источник состояния движка (bot.Engine)
type StatusProvider interface {
	Status() bot.EngineStatus
}

// StatusHandler отдаёт состояние сессии потока котировок.
//
// Endpoints:
// - GET /api/v1/status
type StatusHandler struct {
	engine StatusProvider
}

// NewStatusHandler создает новый StatusHandler
func NewStatusHandler(engine StatusProvider) *StatusHandler {
	return &StatusHandler{engine: engine}
}

// GetStatus возвращает состояние рынка, соединения и календаря.
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	{
//	  "market_open": true,
//	  "next_open_seconds": 0,
//	  "feed_state": "active",
//	  "session_active": true,
//	  "subscriptions": ["NFO:NIFTY24MARFUT"],
//	  "prices_tracked": 1,
//	  "queued_ticks": 0,
//	  "calendar_refreshed_at": "2024-03-05T03:30:00Z",
//	  "calendar_fallback": false
//	}
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "engine not initialized", "")
		return
	}

	status := h.engine.Status()
	if status.Subscriptions == nil {
		status.Subscriptions = []string{}
	}
	respondWithJSON(w, http.StatusOK, status)
}
