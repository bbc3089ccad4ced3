package bot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"riskwatch/internal/models"
	"riskwatch/internal/repository"
)

// memPositionStore - PositionStore в памяти с теми же условными переходами,
// что и PositionRepository
type memPositionStore struct {
	mu        sync.Mutex
	positions map[int64]*models.Position
	events    []*models.RiskEvent

	priceErr   error
	triggerErr error
	loadErr    error

	priceUpdates int
	verifiedLog  []bool
}

func newMemPositionStore(positions ...*models.Position) *memPositionStore {
	s := &memPositionStore{positions: make(map[int64]*models.Position)}
	for _, p := range positions {
		cp := *p
		s.positions[p.ID] = &cp
	}
	return s
}

func (s *memPositionStore) get(id int64) models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.positions[id]
}

func (s *memPositionStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memPositionStore) GetOpenInstruments(ctx context.Context) ([]models.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	seen := make(map[string]models.Instrument)
	for _, p := range s.positions {
		if p.Status == models.PositionStatusEntered {
			inst := models.Instrument{Symbol: p.Symbol, Exchange: p.Exchange}
			seen[inst.Key()] = inst
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.Instrument, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out, nil
}

func (s *memPositionStore) GetOpenBySymbol(ctx context.Context, symbol, exchange string) ([]*models.Position, error) {
	return s.filter(func(p *models.Position) bool {
		return p.Status == models.PositionStatusEntered && p.Symbol == symbol &&
			(exchange == "" || p.Exchange == exchange)
	})
}

func (s *memPositionStore) GetExitPending(ctx context.Context) ([]*models.Position, error) {
	return s.filter(func(p *models.Position) bool {
		return p.Status == models.PositionStatusExitPending
	})
}

func (s *memPositionStore) filter(match func(*models.Position) bool) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []*models.Position
	for _, p := range s.positions {
		if match(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memPositionStore) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPositionStore) UpdatePrice(ctx context.Context, id int64, price, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceUpdates++
	if s.priceErr != nil {
		return s.priceErr
	}
	p, ok := s.positions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.CurrentPrice = price
	p.UnrealizedPnl = pnl
	return nil
}

func (s *memPositionStore) TriggerExit(ctx context.Context, id int64, reason string, ev *models.RiskEvent, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggerErr != nil {
		return false, s.triggerErr
	}
	p, ok := s.positions[id]
	if !ok || p.Status != models.PositionStatusEntered {
		return false, nil
	}
	p.Status = models.PositionStatusExitPending
	p.ExitReason = reason
	p.ExitTriggeredAt = &now
	p.ExitPendingSince = &now
	p.ExitAttemptCount = 0
	p.ExitBrokerVerified = false
	p.ExitRetryAfter = nil

	cp := *ev
	cp.ID = int64(len(s.events) + 1)
	s.events = append(s.events, &cp)
	return true, nil
}

func (s *memPositionStore) RecordExitAttempt(ctx context.Context, id int64, prevCount int, retryAfter, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != models.PositionStatusExitPending || p.ExitAttemptCount != prevCount {
		return false, nil
	}
	if p.ExitRetryAfter != nil && p.ExitRetryAfter.After(now) {
		return false, nil
	}
	p.ExitAttemptCount++
	p.ExitRetryAfter = &retryAfter
	p.ExitBrokerVerified = false
	return true, nil
}

func (s *memPositionStore) SetBrokerVerified(ctx context.Context, id int64, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifiedLog = append(s.verifiedLog, verified)
	if p, ok := s.positions[id]; ok && p.Status == models.PositionStatusExitPending {
		p.ExitBrokerVerified = verified
	}
	return nil
}

func (s *memPositionStore) MarkExited(ctx context.Context, id int64) (bool, error) {
	return s.mark(id, models.PositionStatusExited, true)
}

func (s *memPositionStore) MarkFailed(ctx context.Context, id int64) (bool, error) {
	return s.mark(id, models.PositionStatusFailed, false)
}

func (s *memPositionStore) mark(id int64, status string, verified bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != models.PositionStatusExitPending {
		return false, nil
	}
	p.Status = status
	if verified {
		p.ExitBrokerVerified = true
	}
	return true, nil
}

// fakeBroker - Broker с заданными ответами
type fakeBroker struct {
	mu sync.Mutex

	placeResult ExitOrderResult
	placeErr    error
	live        bool
	liveErr     error

	placeCalls  int
	verifyCalls int
}

func (b *fakeBroker) PlaceExitOrder(ctx context.Context, pos *models.Position) (ExitOrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placeCalls++
	return b.placeResult, b.placeErr
}

func (b *fakeBroker) HasLiveExitOrder(ctx context.Context, pos *models.Position) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyCalls++
	return b.live, b.liveErr
}

var errBroker = errors.New("broker unavailable")

// manualClock - управляемые часы
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingPublisher запоминает опубликованные снапшоты
type recordingPublisher struct {
	mu        sync.Mutex
	name      string
	err       error
	snapshots []*models.PriceSnapshot
}

func (p *recordingPublisher) Name() string { return p.name }

func (p *recordingPublisher) Publish(ctx context.Context, snap *models.PriceSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snap)
	return p.err
}

func (p *recordingPublisher) last() *models.PriceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snapshots) == 0 {
		return nil
	}
	return p.snapshots[len(p.snapshots)-1]
}
