package repository

import (
	"context"
	"database/sql"
	"errors"

	"riskwatch/internal/models"
)

// Ошибки репозитория аккаунтов
var (
	ErrAccountNotFound = errors.New("trading account not found")
)

// AccountRepository - чтение таблицы trading_accounts
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, COALESCE(account_name, ''), COALESCE(host_url, ''),
		COALESCE(websocket_url, ''), COALESCE(api_key, ''), is_primary`

// GetPrimary возвращает аккаунт с флагом is_primary
func (r *AccountRepository) GetPrimary(ctx context.Context) (*models.TradingAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM trading_accounts
		WHERE is_primary = TRUE
		ORDER BY id
		LIMIT 1`

	return r.getOne(ctx, query)
}

// GetFirstWithWebSocket возвращает первый аккаунт с непустым websocket_url
func (r *AccountRepository) GetFirstWithWebSocket(ctx context.Context) (*models.TradingAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM trading_accounts
		WHERE websocket_url IS NOT NULL AND websocket_url <> ''
		ORDER BY id
		LIMIT 1`

	return r.getOne(ctx, query)
}

func (r *AccountRepository) getOne(ctx context.Context, query string) (*models.TradingAccount, error) {
	acc := &models.TradingAccount{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&acc.ID,
		&acc.Name,
		&acc.HostURL,
		&acc.WebSocketURL,
		&acc.APIKey,
		&acc.IsPrimary,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}
