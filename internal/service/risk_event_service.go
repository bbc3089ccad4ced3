package service

import (
	"context"

	"riskwatch/internal/models"
)

// Лимиты выдачи журнала событий
const (
	DefaultRiskEventLimit = 50
	MaxRiskEventLimit     = 500
)

// RiskEventService - чтение журнала срабатываний SL/TP для операторского API
type RiskEventService struct {
	eventRepo RiskEventRepositoryInterface
}

// NewRiskEventService создает новый экземпляр RiskEventService
func NewRiskEventService(eventRepo RiskEventRepositoryInterface) *RiskEventService {
	return &RiskEventService{eventRepo: eventRepo}
}

// GetRecent возвращает последние события. limit <= 0 заменяется на
// DefaultRiskEventLimit, больше MaxRiskEventLimit обрезается.
func (s *RiskEventService) GetRecent(ctx context.Context, limit int) ([]*models.RiskEvent, error) {
	if limit <= 0 {
		limit = DefaultRiskEventLimit
	}
	if limit > MaxRiskEventLimit {
		limit = MaxRiskEventLimit
	}

	events, err := s.eventRepo.GetRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.RiskEvent{}
	}
	return events, nil
}

// GetByPosition возвращает события конкретной позиции
func (s *RiskEventService) GetByPosition(ctx context.Context, positionID int64) ([]*models.RiskEvent, error) {
	events, err := s.eventRepo.GetByExecutionID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.RiskEvent{}
	}
	return events, nil
}
