package bot

import (
	"context"
	"sort"
	"sync"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// PriceStore - последние цены по инструментам и текущий набор подписок.
//
// Мьютекс держится только на время работы с картой. Каждое изменение
// увеличивает версию и будит цикл публикации через канал ёмкостью 1,
// поэтому серия тиков между публикациями схлопывается в один снапшот.
type PriceStore struct {
	mu            sync.RWMutex
	prices        map[string]models.Tick
	subscriptions []string
	version       uint64
	updatedAt     time.Time

	changes chan struct{}
	now     func() time.Time
	logger  *utils.Logger
}

// NewPriceStore создаёт пустое хранилище
func NewPriceStore(logger *utils.Logger) *PriceStore {
	if logger == nil {
		logger = utils.L()
	}
	return &PriceStore{
		prices:  make(map[string]models.Tick),
		changes: make(chan struct{}, 1),
		now:     time.Now,
		logger:  logger.WithComponent("price_store"),
	}
}

// Update сохраняет тик. Порядок применения - порядок поступления:
// более старая метка времени не отбрасывает тик.
func (s *PriceStore) Update(tick models.Tick) {
	key := tick.Key()

	s.mu.Lock()
	s.prices[key] = tick
	s.version++
	s.updatedAt = s.now()
	s.mu.Unlock()

	s.notify()
}

// Latest возвращает последний тик по ключу "EXCH:SYM"
func (s *PriceStore) Latest(key string) (models.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.prices[key]
	return tick, ok
}

// Len - количество инструментов с ценой
func (s *PriceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices)
}

// SetSubscriptions заменяет набор подписок
func (s *PriceStore) SetSubscriptions(keys []string) {
	subs := append([]string(nil), keys...)
	sort.Strings(subs)

	s.mu.Lock()
	s.subscriptions = subs
	s.version++
	s.updatedAt = s.now()
	s.mu.Unlock()

	s.notify()
}

// Reset очищает цены и подписки (рынок закрылся)
func (s *PriceStore) Reset() {
	s.mu.Lock()
	s.prices = make(map[string]models.Tick)
	s.subscriptions = nil
	s.version++
	s.updatedAt = s.now()
	s.mu.Unlock()

	s.notify()
}

// Snapshot возвращает независимую копию состояния
func (s *PriceStore) Snapshot() *models.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &models.PriceSnapshot{
		Prices:        make(map[string]models.PriceEntry, len(s.prices)),
		UpdatedAt:     s.updatedAt,
		Subscriptions: append(make([]string, 0, len(s.subscriptions)), s.subscriptions...),
		Version:       s.version,
	}
	for key, tick := range s.prices {
		snap.Prices[key] = models.NewPriceEntry(tick)
	}
	return snap
}

// Changes - сигнал об изменении состояния
func (s *PriceStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *PriceStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// RunPublisher публикует снапшот во все publishers после каждого изменения.
// Ошибки публикатора логируются и не мешают остальным. Блокирует до ctx.Done().
func (s *PriceStore) RunPublisher(ctx context.Context, publishers ...Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.changes:
			s.publish(ctx, publishers)
		}
	}
}

func (s *PriceStore) publish(ctx context.Context, publishers []Publisher) {
	snap := s.Snapshot()
	for _, p := range publishers {
		if err := p.Publish(ctx, snap); err != nil {
			RecordPublishFailure(p.Name())
			s.logger.Warn("failed to publish price snapshot",
				utils.String("publisher", p.Name()),
				utils.Err(err))
		}
	}
}
