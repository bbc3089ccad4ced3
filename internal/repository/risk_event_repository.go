package repository

import (
	"context"
	"database/sql"

	"riskwatch/internal/models"
)

// RiskEventRepository - журнал risk_events (только INSERT и SELECT)
type RiskEventRepository struct {
	db *sql.DB
}

// NewRiskEventRepository создает новый экземпляр репозитория
func NewRiskEventRepository(db *sql.DB) *RiskEventRepository {
	return &RiskEventRepository{db: db}
}

// rowQuerier - общий интерфейс *sql.DB и *sql.Tx для вставки
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const insertRiskEventQuery = `
	INSERT INTO risk_events (strategy_id, execution_id, event_type, trigger_value, action_taken, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

func insertRiskEvent(ctx context.Context, q rowQuerier, ev *models.RiskEvent) error {
	return q.QueryRowContext(ctx, insertRiskEventQuery,
		ev.StrategyID,
		ev.ExecutionID,
		ev.EventType,
		ev.TriggerValue,
		ev.ActionTaken,
		ev.CreatedAt,
	).Scan(&ev.ID)
}

// Create добавляет событие вне транзакции перехода статуса
func (r *RiskEventRepository) Create(ctx context.Context, ev *models.RiskEvent) error {
	return insertRiskEvent(ctx, r.db, ev)
}

// GetByExecutionID возвращает события позиции в порядке создания
func (r *RiskEventRepository) GetByExecutionID(ctx context.Context, executionID int64) ([]*models.RiskEvent, error) {
	query := `
		SELECT id, strategy_id, execution_id, event_type, trigger_value, action_taken, created_at
		FROM risk_events
		WHERE execution_id = $1
		ORDER BY created_at, id`

	return r.list(ctx, query, executionID)
}

// GetRecent возвращает последние limit событий
func (r *RiskEventRepository) GetRecent(ctx context.Context, limit int) ([]*models.RiskEvent, error) {
	query := `
		SELECT id, strategy_id, execution_id, event_type, trigger_value, action_taken, created_at
		FROM risk_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	return r.list(ctx, query, limit)
}

func (r *RiskEventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.RiskEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.RiskEvent
	for rows.Next() {
		ev := &models.RiskEvent{}
		err := rows.Scan(
			&ev.ID,
			&ev.StrategyID,
			&ev.ExecutionID,
			&ev.EventType,
			&ev.TriggerValue,
			&ev.ActionTaken,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
