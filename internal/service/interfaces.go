package service

import (
	"context"

	"riskwatch/internal/models"
	"riskwatch/internal/repository"
)

// AccountRepositoryInterface определяет интерфейс репозитория торговых аккаунтов
type AccountRepositoryInterface interface {
	GetPrimary(ctx context.Context) (*models.TradingAccount, error)
	GetFirstWithWebSocket(ctx context.Context) (*models.TradingAccount, error)
}

// RiskEventRepositoryInterface определяет интерфейс журнала risk_events
type RiskEventRepositoryInterface interface {
	GetRecent(ctx context.Context, limit int) ([]*models.RiskEvent, error)
	GetByExecutionID(ctx context.Context, executionID int64) ([]*models.RiskEvent, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ AccountRepositoryInterface = (*repository.AccountRepository)(nil)
var _ RiskEventRepositoryInterface = (*repository.RiskEventRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// AccountServiceInterface определяет интерфейс сервиса аккаунтов
type AccountServiceInterface interface {
	SelectAccount(ctx context.Context) (*models.TradingAccount, error)
	LoadFeedCredentials(ctx context.Context) (*models.FeedCredentials, error)
}

// RiskEventServiceInterface определяет интерфейс сервиса журнала событий
type RiskEventServiceInterface interface {
	GetRecent(ctx context.Context, limit int) ([]*models.RiskEvent, error)
	GetByPosition(ctx context.Context, positionID int64) ([]*models.RiskEvent, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ AccountServiceInterface = (*AccountService)(nil)
var _ RiskEventServiceInterface = (*RiskEventService)(nil)
