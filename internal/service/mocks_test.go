package service

import (
	"context"

	"riskwatch/internal/models"
	"riskwatch/internal/repository"
)

// ============ Mock AccountRepository ============

type MockAccountRepository struct {
	primary       *models.TradingAccount
	withSocket    *models.TradingAccount
	primaryErr    error
	withSocketErr error

	primaryCalls    int
	withSocketCalls int
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{}
}

func (m *MockAccountRepository) GetPrimary(ctx context.Context) (*models.TradingAccount, error) {
	m.primaryCalls++
	if m.primaryErr != nil {
		return nil, m.primaryErr
	}
	if m.primary == nil {
		return nil, repository.ErrAccountNotFound
	}
	return m.primary, nil
}

func (m *MockAccountRepository) GetFirstWithWebSocket(ctx context.Context) (*models.TradingAccount, error) {
	m.withSocketCalls++
	if m.withSocketErr != nil {
		return nil, m.withSocketErr
	}
	if m.withSocket == nil {
		return nil, repository.ErrAccountNotFound
	}
	return m.withSocket, nil
}

// ============ Mock RiskEventRepository ============

type MockRiskEventRepository struct {
	events    []*models.RiskEvent
	getErr    error
	lastLimit int
}

func NewMockRiskEventRepository() *MockRiskEventRepository {
	return &MockRiskEventRepository{}
}

func (m *MockRiskEventRepository) GetRecent(ctx context.Context, limit int) ([]*models.RiskEvent, error) {
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	if limit < len(m.events) {
		return m.events[:limit], nil
	}
	return m.events, nil
}

func (m *MockRiskEventRepository) GetByExecutionID(ctx context.Context, executionID int64) ([]*models.RiskEvent, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.RiskEvent
	for _, ev := range m.events {
		if ev.ExecutionID == executionID {
			result = append(result, ev)
		}
	}
	return result, nil
}
