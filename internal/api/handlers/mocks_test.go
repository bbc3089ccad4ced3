package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"riskwatch/internal/bot"
	"riskwatch/internal/models"
	"riskwatch/internal/repository"
)

// ErrMockDatabase - ошибка БД для тестов
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Status Provider ============

type MockStatusProvider struct {
	status bot.EngineStatus
}

func (m *MockStatusProvider) Status() bot.EngineStatus {
	return m.status
}

// ============ Mock Price Source ============

type MockPriceSource struct {
	mu    sync.RWMutex
	ticks map[string]models.Tick
	subs  []string
	at    time.Time
}

func NewMockPriceSource() *MockPriceSource {
	return &MockPriceSource{ticks: make(map[string]models.Tick)}
}

func (m *MockPriceSource) Add(tick models.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[tick.Key()] = tick
	m.subs = append(m.subs, tick.Key())
	m.at = tick.Timestamp
}

func (m *MockPriceSource) Snapshot() *models.PriceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &models.PriceSnapshot{
		Prices:        make(map[string]models.PriceEntry, len(m.ticks)),
		UpdatedAt:     m.at,
		Subscriptions: append([]string{}, m.subs...),
	}
	for key, tick := range m.ticks {
		snap.Prices[key] = models.NewPriceEntry(tick)
	}
	return snap
}

func (m *MockPriceSource) Latest(key string) (models.Tick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tick, ok := m.ticks[key]
	return tick, ok
}

// ============ Mock Risk Event Service ============

type MockRiskEventService struct {
	mu        sync.Mutex
	events    []*models.RiskEvent
	err       error
	lastLimit int
}

func (m *MockRiskEventService) GetRecent(ctx context.Context, limit int) ([]*models.RiskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

func (m *MockRiskEventService) GetByPosition(ctx context.Context, positionID int64) ([]*models.RiskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	result := []*models.RiskEvent{}
	for _, ev := range m.events {
		if ev.ExecutionID == positionID {
			result = append(result, ev)
		}
	}
	return result, nil
}

// ============ Mock Position Reader ============

type MockPositionReader struct {
	positions map[int64]*models.Position
	err       error
}

func NewMockPositionReader(positions ...*models.Position) *MockPositionReader {
	m := &MockPositionReader{positions: make(map[int64]*models.Position)}
	for _, p := range positions {
		m.positions[p.ID] = p
	}
	return m
}

func (m *MockPositionReader) GetExitPending(ctx context.Context) ([]*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	var result []*models.Position
	for _, p := range m.positions {
		if p.Status == models.PositionStatusExitPending {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *MockPositionReader) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.positions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	return p, nil
}
