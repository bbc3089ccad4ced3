package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики ядра риска
// ============================================================
//
// Отдаются на /metrics через promhttp. Регистрация через promauto
// в DefaultRegisterer, поэтому метрики живут на уровне пакета.

// ============ Метрики латентности ============

// EvaluationLatency - время обработки тика оценщиком риска (чтение позиций,
// запись цены, проверка порогов)
var EvaluationLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskwatch",
		Subsystem: "risk",
		Name:      "evaluation_latency_ms",
		Help:      "Time to evaluate one tick against open positions in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
	},
)

// ============ Счётчики событий ============

// TicksEvaluated - тики, прошедшие через оценщик риска
var TicksEvaluated = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "risk",
		Name:      "ticks_evaluated_total",
		Help:      "Number of ticks evaluated against open positions",
	},
)

// TriggersTotal - срабатывания порогов
var TriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "risk",
		Name:      "triggers_total",
		Help:      "Number of threshold triggers that moved a position to exit_pending",
	},
	[]string{"reason"}, // stop_loss, take_profit
)

// ExitAttempts - результаты попыток выхода
var ExitAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "exit",
		Name:      "exit_attempts_total",
		Help:      "Exit attempts by outcome",
	},
	[]string{"outcome"},
)

// CalendarFallbacks - переходы календаря на расписание по умолчанию
var CalendarFallbacks = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "calendar",
		Name:      "calendar_fallbacks_total",
		Help:      "Number of times the calendar fell back to the default schedule",
	},
)

// PublishFailures - ошибки публикации снапшота цен
var PublishFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "prices",
		Name:      "publish_failures_total",
		Help:      "Number of failed price snapshot publications",
	},
	[]string{"publisher"},
)

// ============ Метрики состояния ============

// FeedConnected - 1, если поток котировок в состоянии active
var FeedConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "feed",
		Name:      "connected",
		Help:      "Feed connection status (1=active, 0=otherwise)",
	},
)

// Subscriptions - число инструментов в подписке
var Subscriptions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "feed",
		Name:      "subscriptions",
		Help:      "Number of subscribed instruments",
	},
)

// MarketOpen - 1, если по календарю рынок открыт
var MarketOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "calendar",
		Name:      "market_open",
		Help:      "Market open according to the trading calendar (1=open, 0=closed)",
	},
)

// ============ Метрики производительности ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "dispatch",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // tick_shard
)

// BufferBacklog - заполненность буфера в момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "dispatch",
		Name:      "buffer_backlog_ratio",
		Help:      "Buffer fill ratio observed at the last overflow",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordEvaluation записывает обработку тика
func RecordEvaluation(latencyMs float64) {
	EvaluationLatency.Observe(latencyMs)
	TicksEvaluated.Inc()
}

// RecordTrigger записывает срабатывание порога
func RecordTrigger(reason string) {
	TriggersTotal.WithLabelValues(reason).Inc()
}

// RecordExitOutcome записывает результат попытки выхода
func RecordExitOutcome(outcome ExitOutcome) {
	ExitAttempts.WithLabelValues(outcome.String()).Inc()
}

// RecordCalendarFallback увеличивает счётчик fallback календаря
func RecordCalendarFallback() {
	CalendarFallbacks.Inc()
}

// RecordPublishFailure записывает ошибку публикатора
func RecordPublishFailure(publisher string) {
	PublishFailures.WithLabelValues(publisher).Inc()
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}

// UpdateFeedStatus обновляет метрики соединения
func UpdateFeedStatus(active bool, subscriptions int) {
	if active {
		FeedConnected.Set(1)
	} else {
		FeedConnected.Set(0)
	}
	Subscriptions.Set(float64(subscriptions))
}

// UpdateMarketOpen обновляет статус рынка
func UpdateMarketOpen(open bool) {
	if open {
		MarketOpen.Set(1)
	} else {
		MarketOpen.Set(0)
	}
}
