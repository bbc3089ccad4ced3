package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskwatch/internal/api/handlers"
	"riskwatch/internal/api/middleware"
	"riskwatch/internal/service"
	"riskwatch/pkg/utils"
)

// Dependencies содержит зависимости API handlers.
// Нулевые поля отключают соответствующие маршруты.
type Dependencies struct {
	Engine     handlers.StatusProvider
	Prices     handlers.PriceSource
	Positions  handlers.PositionReader
	RiskEvents service.RiskEventServiceInterface
	Stream     http.HandlerFunc // websocket.Hub.ServeWS

	AdminUsername     string
	AdminPasswordHash string
	AllowedOrigins    string

	Logger *utils.Logger
}

// SetupRoutes настраивает HTTP маршруты операторского API.
//
// Структура маршрутов:
//
//	/health                                - liveness, без auth
//	/api/v1/
//	├── GET /status                        - рынок, соединение, календарь
//	├── GET /prices                        - снапшот цен
//	├── GET /prices/{exchange}/{symbol}    - цена инструмента
//	├── GET /risk-events?limit=N           - журнал срабатываний SL/TP
//	├── GET /positions/exit-pending        - позиции, ожидающие выхода
//	├── GET /positions/{id}                - позиция
//	└── GET /positions/{id}/risk-events    - события позиции
//	/metrics                               - prometheus
//	/ws/stream                             - WebSocket снапшотов цен
//
// Middleware: Recovery и Logging для всех маршрутов, CORS, BasicAuth для /api/v1 и /metrics.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	auth := middleware.BasicAuth(deps.AdminUsername, deps.AdminPasswordHash)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Engine != nil {
		statusHandler := handlers.NewStatusHandler(deps.Engine)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	}

	if deps.Prices != nil {
		priceHandler := handlers.NewPriceHandler(deps.Prices)
		api.HandleFunc("/prices", priceHandler.GetPrices).Methods("GET")
		api.HandleFunc("/prices/{exchange}/{symbol}", priceHandler.GetPrice).Methods("GET")
	}

	if deps.RiskEvents != nil {
		eventHandler := handlers.NewRiskEventHandler(deps.RiskEvents)
		api.HandleFunc("/risk-events", eventHandler.GetRecent).Methods("GET")
		api.HandleFunc("/positions/{id:[0-9]+}/risk-events", eventHandler.GetByPosition).Methods("GET")
	}

	if deps.Positions != nil {
		positionHandler := handlers.NewPositionHandler(deps.Positions)
		api.HandleFunc("/positions/exit-pending", positionHandler.GetExitPending).Methods("GET")
		api.HandleFunc("/positions/{id:[0-9]+}", positionHandler.GetPosition).Methods("GET")
	}

	router.Handle("/metrics", auth(promhttp.Handler())).Methods("GET")

	if deps.Stream != nil {
		router.HandleFunc("/ws/stream", deps.Stream)
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
