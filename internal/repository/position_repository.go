package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"riskwatch/internal/models"
)

// PositionRepository - позиции стратегий (strategy_executions + пороги из strategies)
//
// Все переходы статуса - условные UPDATE (compare-and-set по status и
// exit_attempt_count). Ноль затронутых строк означает, что переход уже
// выполнил кто-то другой; это не ошибка, а результат false.

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей strategy_executions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// exchangeExpr - биржа позиции с подстановкой NFO для пустых значений
const exchangeExpr = `COALESCE(NULLIF(e.exchange, ''), 'NFO')`

const positionSelect = `
	SELECT e.id, e.strategy_id, e.symbol, ` + exchangeExpr + `, e.side,
		COALESCE(e.quantity, 0), COALESCE(e.entry_price, 0),
		COALESCE(e.current_price, 0), COALESCE(e.unrealized_pnl, 0), e.status,
		COALESCE(e.exit_reason, ''), e.exit_triggered_at, e.exit_retry_after,
		COALESCE(e.exit_attempt_count, 0), e.exit_pending_since,
		COALESCE(e.exit_broker_verified, FALSE),
		COALESCE(s.stop_loss, 0), COALESCE(s.take_profit, 0)
	FROM strategy_executions e
	LEFT JOIN strategies s ON s.id = e.strategy_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var triggeredAt, retryAfter, pendingSince sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.StrategyID,
		&p.Symbol,
		&p.Exchange,
		&p.Side,
		&p.Quantity,
		&p.EntryPrice,
		&p.CurrentPrice,
		&p.UnrealizedPnl,
		&p.Status,
		&p.ExitReason,
		&triggeredAt,
		&retryAfter,
		&p.ExitAttemptCount,
		&pendingSince,
		&p.ExitBrokerVerified,
		&p.StopLoss,
		&p.TakeProfit,
	)
	if err != nil {
		return nil, err
	}

	p.ExitTriggeredAt = nullTimePtr(triggeredAt)
	p.ExitRetryAfter = nullTimePtr(retryAfter)
	p.ExitPendingSince = nullTimePtr(pendingSince)
	return p, nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetOpenInstruments возвращает уникальные инструменты позиций со статусом entered
func (r *PositionRepository) GetOpenInstruments(ctx context.Context) ([]models.Instrument, error) {
	query := `
		SELECT DISTINCT e.symbol, ` + exchangeExpr + `
		FROM strategy_executions e
		WHERE e.status = 'entered' AND e.symbol IS NOT NULL AND e.symbol <> ''
		ORDER BY 2, 1`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		var inst models.Instrument
		if err := rows.Scan(&inst.Symbol, &inst.Exchange); err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}

	return instruments, rows.Err()
}

// GetOpenBySymbol возвращает позиции entered по символу; пустая биржа не фильтрует
func (r *PositionRepository) GetOpenBySymbol(ctx context.Context, symbol, exchange string) ([]*models.Position, error) {
	query := positionSelect + `
		WHERE e.status = 'entered' AND e.symbol = $1`
	args := []interface{}{symbol}

	if exchange != "" {
		query += ` AND ` + exchangeExpr + ` = $2`
		args = append(args, exchange)
	}
	query += ` ORDER BY e.id`

	return r.list(ctx, query, args...)
}

// GetExitPending возвращает позиции, ожидающие исполнения выхода
func (r *PositionRepository) GetExitPending(ctx context.Context) ([]*models.Position, error) {
	query := positionSelect + `
		WHERE e.status = 'exit_pending'
		ORDER BY e.exit_pending_since, e.id`

	return r.list(ctx, query)
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	query := positionSelect + `
		WHERE e.id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// UpdatePrice сохраняет текущую цену и нереализованный P&L
func (r *PositionRepository) UpdatePrice(ctx context.Context, id int64, price, pnl float64) error {
	query := `
		UPDATE strategy_executions
		SET current_price = $1, unrealized_pnl = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, price, pnl, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// TriggerExit переводит позицию entered -> exit_pending и в той же транзакции
// добавляет RiskEvent. Возвращает false, если позиция уже не в статусе entered.
func (r *PositionRepository) TriggerExit(ctx context.Context, id int64, reason string, ev *models.RiskEvent, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // после Commit это no-op

	query := `
		UPDATE strategy_executions
		SET status = 'exit_pending',
			exit_reason = $1,
			exit_triggered_at = $2,
			exit_pending_since = $2,
			exit_attempt_count = 0,
			exit_broker_verified = FALSE,
			exit_retry_after = NULL
		WHERE id = $3 AND status = 'entered'`

	result, err := tx.ExecContext(ctx, query, reason, now, id)
	if err != nil {
		return false, fmt.Errorf("mark exit_pending: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	if err := insertRiskEvent(ctx, tx, ev); err != nil {
		return false, fmt.Errorf("insert risk event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// RecordExitAttempt фиксирует попытку выхода: attempt_count+1, retry_after.
// Срабатывает только если счётчик равен prevCount и окно повтора уже открыто.
// Новая заявка отменяет прежнюю сверку: exit_broker_verified сбрасывается.
func (r *PositionRepository) RecordExitAttempt(ctx context.Context, id int64, prevCount int, retryAfter, now time.Time) (bool, error) {
	query := `
		UPDATE strategy_executions
		SET exit_attempt_count = exit_attempt_count + 1,
			exit_retry_after = $1,
			exit_broker_verified = FALSE
		WHERE id = $2
			AND status = 'exit_pending'
			AND exit_attempt_count = $3
			AND (exit_retry_after IS NULL OR exit_retry_after <= $4)`

	return r.execCAS(ctx, query, retryAfter, id, prevCount, now)
}

// SetBrokerVerified записывает результат сверки с брокером
func (r *PositionRepository) SetBrokerVerified(ctx context.Context, id int64, verified bool) error {
	query := `
		UPDATE strategy_executions
		SET exit_broker_verified = $1
		WHERE id = $2 AND status = 'exit_pending'`

	_, err := r.db.ExecContext(ctx, query, verified, id)
	return err
}

// MarkExited - выход подтверждён брокером
func (r *PositionRepository) MarkExited(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE strategy_executions
		SET status = 'exited', exit_broker_verified = TRUE
		WHERE id = $1 AND status = 'exit_pending'`

	return r.execCAS(ctx, query, id)
}

// MarkFailed - внешний бюджет повторов исчерпан
func (r *PositionRepository) MarkFailed(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE strategy_executions
		SET status = 'failed'
		WHERE id = $1 AND status = 'exit_pending'`

	return r.execCAS(ctx, query, id)
}

func (r *PositionRepository) execCAS(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}
