package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"riskwatch/internal/models"
)

// PriceSource - хранилище последних цен (bot.PriceStore)
type PriceSource interface {
	Snapshot() *models.PriceSnapshot
	Latest(key string) (models.Tick, bool)
}

// PriceHandler обрабатывает запросы цен.
//
// Endpoints:
// - GET /api/v1/prices - снапшот в том же формате, что и файл общих данных
// - GET /api/v1/prices/{exchange}/{symbol} - последняя цена инструмента
type PriceHandler struct {
	prices PriceSource
}

// NewPriceHandler создает новый PriceHandler
func NewPriceHandler(prices PriceSource) *PriceHandler {
	return &PriceHandler{prices: prices}
}

// GetPrices возвращает полный снапшот цен
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "price store not initialized", "")
		return
	}
	respondWithJSON(w, http.StatusOK, h.prices.Snapshot())
}

// GetPrice возвращает последнюю цену одного инструмента.
//
// GET /api/v1/prices/NFO/NIFTY24MARFUT
//
// Response 404 Not Found, если тиков по инструменту ещё не было.
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "price store not initialized", "")
		return
	}

	vars := mux.Vars(r)
	exchange := strings.ToUpper(strings.TrimSpace(vars["exchange"]))
	symbol := strings.TrimSpace(vars["symbol"])
	if exchange == "" || symbol == "" {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "exchange and symbol are required", "")
		return
	}

	key := models.InstrumentKey(exchange, symbol)
	tick, ok := h.prices.Latest(key)
	if !ok {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "no price for instrument", key)
		return
	}

	respondWithJSON(w, http.StatusOK, models.NewPriceEntry(tick))
}
