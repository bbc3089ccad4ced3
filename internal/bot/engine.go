package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskwatch/internal/feed"
	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// Calendar - торговый календарь (реализуется calendar.Cache)
type Calendar interface {
	MaybeRefresh(ctx context.Context, now time.Time) bool
	IsOpen(now time.Time) bool
	NextOpenAfter(now time.Time) time.Duration
	Snapshot() *models.CalendarSnapshot
}

// FeedConnection - соединение с потоком котировок (реализуется feed.Connection)
type FeedConnection interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, instruments []models.Instrument) ([]string, error)
	Subscriptions() []string
	State() feed.State
	IsActive() bool
	Close() error
}

// EngineConfig - интервалы управляющего цикла
type EngineConfig struct {
	LoopInterval        time.Duration // пауза между итерациями при открытом рынке
	ConnectRetryDelay   time.Duration // пауза после неудачного подключения и потери сессии
	ErrorRetryDelay     time.Duration // пауза после ошибки шага
	SubscriptionRefresh time.Duration // период полной переподписки
	SleepChunk          time.Duration // сон вне торговых часов идёт кусками
	MaxClosedSleep      time.Duration // верхняя граница сна вне торговых часов
}

// DefaultEngineConfig возвращает конфигурацию по умолчанию
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LoopInterval:        time.Second,
		ConnectRetryDelay:   30 * time.Second,
		ErrorRetryDelay:     5 * time.Second,
		SubscriptionRefresh: 60 * time.Second,
		SleepChunk:          60 * time.Second,
		MaxClosedSleep:      time.Hour,
	}
}

// EngineStatus - состояние для API оператора
type EngineStatus struct {
	MarketOpen          bool       `json:"market_open"`
	NextOpenSeconds     int64      `json:"next_open_seconds"`
	FeedState           string     `json:"feed_state"`
	SessionActive       bool       `json:"session_active"`
	Subscriptions       []string   `json:"subscriptions"`
	PricesTracked       int        `json:"prices_tracked"`
	QueuedTicks         int        `json:"queued_ticks"`
	CalendarRefreshedAt *time.Time `json:"calendar_refreshed_at,omitempty"`
	CalendarFallback    bool       `json:"calendar_fallback"`
}

// Engine - управляющий цикл: по календарю открывает и закрывает сессию
// потока котировок, держит подписку на инструменты открытых позиций.
//
// Поток данных:
// feed read pump → HandleTick → PriceStore.Update + Dispatcher.Enqueue →
// worker → RiskEvaluator.OnTick → ExitManager.RequestExit
//
// Цикл однопоточный; состояние сессии меняется только в нём.
type Engine struct {
	cfg        EngineConfig
	calendar   Calendar
	conn       FeedConnection
	positions  PositionStore
	store      *PriceStore
	dispatcher *Dispatcher
	logger     *utils.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.RWMutex
	sessionActive bool
	lastSubscribe time.Time
}

// NewEngine создаёт управляющий цикл
func NewEngine(cfg EngineConfig, calendar Calendar, conn FeedConnection, positions PositionStore,
	store *PriceStore, dispatcher *Dispatcher, logger *utils.Logger) *Engine {
	defaults := DefaultEngineConfig()
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = defaults.LoopInterval
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = defaults.ConnectRetryDelay
	}
	if cfg.ErrorRetryDelay <= 0 {
		cfg.ErrorRetryDelay = defaults.ErrorRetryDelay
	}
	if cfg.SubscriptionRefresh <= 0 {
		cfg.SubscriptionRefresh = defaults.SubscriptionRefresh
	}
	if cfg.SleepChunk <= 0 {
		cfg.SleepChunk = defaults.SleepChunk
	}
	if cfg.MaxClosedSleep <= 0 {
		cfg.MaxClosedSleep = defaults.MaxClosedSleep
	}
	if logger == nil {
		logger = utils.L()
	}

	e := &Engine{
		cfg:        cfg,
		calendar:   calendar,
		conn:       conn,
		positions:  positions,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.WithComponent("engine"),
		now:        time.Now,
	}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		return utils.SleepContext(ctx, d, e.cfg.SleepChunk)
	}
	return e
}

// HandleTick - обработчик тиков потока: цена в хранилище, тик в диспетчер.
// Вызывается из горутины чтения транспорта и не ходит в БД.
func (e *Engine) HandleTick(tick models.Tick) {
	e.store.Update(tick)
	if e.dispatcher != nil {
		e.dispatcher.Enqueue(tick)
	}
}

// Recover сообщает о позициях, оставшихся в exit_pending после перезапуска.
// Статус не меняется: их дообработает внешний исполнитель выхода.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	pending, err := e.positions.GetExitPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("load exit pending positions: %w", err)
	}
	for _, pos := range pending {
		e.logger.Warn("position awaiting exit after restart",
			utils.PositionID(pos.ID),
			utils.Symbol(pos.Symbol),
			utils.Reason(pos.ExitReason),
			utils.Attempt(pos.ExitAttemptCount))
	}
	if len(pending) > 0 {
		e.logger.Info("recovered exit pending positions", utils.Int("count", len(pending)))
	}
	return len(pending), nil
}

// Run крутит цикл до отмены контекста; при выходе закрывает сессию
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started")
	defer e.logger.Info("engine stopped")

	for {
		delay, err := e.step(ctx)
		if err != nil {
			e.logger.Error("engine step failed", utils.Err(err))
			delay = e.cfg.ErrorRetryDelay
		}

		if err := e.sleep(ctx, delay); err != nil || ctx.Err() != nil {
			if e.isSessionActive() {
				e.teardown("shutdown")
			}
			return nil
		}
	}
}

// step - одна итерация цикла; возвращает паузу до следующей
func (e *Engine) step(ctx context.Context) (time.Duration, error) {
	now := e.now()
	e.calendar.MaybeRefresh(ctx, now)

	open := e.calendar.IsOpen(now)
	UpdateMarketOpen(open)

	if !open {
		if e.isSessionActive() {
			e.teardown("market closed")
		}
		wait := e.calendar.NextOpenAfter(now)
		if wait <= 0 {
			wait = e.cfg.LoopInterval
		}
		wait = utils.MinDuration(wait, e.cfg.MaxClosedSleep)
		e.logger.Debug("market closed",
			utils.Duration("sleep", wait),
			utils.String("sleep_human", utils.FormatDuration(wait)))
		return wait, nil
	}

	state := e.conn.State()

	if e.isSessionActive() && state == feed.StateDisconnected {
		// переподключение соединения исчерпано или обрыв без права на повтор
		e.logger.Warn("feed session lost, reconnecting after delay",
			utils.Duration("delay", e.cfg.ConnectRetryDelay))
		e.setSession(false)
		UpdateFeedStatus(false, 0)
		return e.cfg.ConnectRetryDelay, nil
	}

	if !e.isSessionActive() {
		switch state {
		case feed.StateDisconnected:
			if err := e.conn.Connect(ctx); err != nil {
				e.logger.Error("failed to connect feed", utils.Err(err))
				return e.cfg.ConnectRetryDelay, nil
			}
		case feed.StateActive:
		default:
			// соединение само в процессе подключения
			return e.cfg.LoopInterval, nil
		}
		e.setSession(true)
		e.logger.Info("feed session started")
	}

	if !e.conn.IsActive() {
		// идёт переподключение, ждём
		return e.cfg.LoopInterval, nil
	}

	if e.subscriptionDue(now) {
		if err := e.refreshSubscriptions(ctx, now); err != nil {
			return 0, err
		}
	}

	return e.cfg.LoopInterval, nil
}

// refreshSubscriptions подписывает инструменты открытых позиций
func (e *Engine) refreshSubscriptions(ctx context.Context, now time.Time) error {
	instruments, err := e.positions.GetOpenInstruments(ctx)
	if err != nil {
		return fmt.Errorf("load open instruments: %w", err)
	}

	keys, err := e.conn.Subscribe(ctx, instruments)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	e.store.SetSubscriptions(keys)
	UpdateFeedStatus(true, len(keys))

	e.mu.Lock()
	e.lastSubscribe = now
	e.mu.Unlock()

	e.logger.Debug("subscriptions refreshed", utils.Int("count", len(keys)))
	return nil
}

// teardown закрывает сессию и публикует пустой снапшот
func (e *Engine) teardown(reason string) {
	if err := e.conn.Close(); err != nil {
		e.logger.Warn("failed to close feed connection", utils.Err(err))
	}
	e.store.Reset()
	e.setSession(false)
	UpdateFeedStatus(false, 0)
	e.logger.Info("feed session closed", utils.Reason(reason))
}

func (e *Engine) isSessionActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessionActive
}

func (e *Engine) setSession(active bool) {
	e.mu.Lock()
	e.sessionActive = active
	if !active {
		e.lastSubscribe = time.Time{}
	}
	e.mu.Unlock()
}

func (e *Engine) subscriptionDue(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSubscribe.IsZero() || now.Sub(e.lastSubscribe) >= e.cfg.SubscriptionRefresh
}

// Status собирает состояние для API
func (e *Engine) Status() EngineStatus {
	now := e.now()

	status := EngineStatus{
		MarketOpen:    e.calendar.IsOpen(now),
		FeedState:     e.conn.State().String(),
		SessionActive: e.isSessionActive(),
		Subscriptions: e.conn.Subscriptions(),
		PricesTracked: e.store.Len(),
	}
	if !status.MarketOpen {
		status.NextOpenSeconds = int64(e.calendar.NextOpenAfter(now) / time.Second)
	}
	if e.dispatcher != nil {
		status.QueuedTicks = e.dispatcher.QueueLen()
	}
	if snap := e.calendar.Snapshot(); snap != nil {
		refreshed := snap.RefreshedAt
		status.CalendarRefreshedAt = &refreshed
		status.CalendarFallback = snap.Fallback
	}
	return status
}

// PriceStore - хранилище цен движка
func (e *Engine) PriceStore() *PriceStore {
	return e.store
}
