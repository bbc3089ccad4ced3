package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riskwatch/internal/models"
	"riskwatch/internal/repository"
	"riskwatch/pkg/utils"
)

// DefaultRetrySpacing - минимальный интервал между попытками выхода по позиции
const DefaultRetrySpacing = 10 * time.Second

// ExitOutcome - результат AttemptExit
type ExitOutcome int

const (
	// ExitNotAllowed - статус не exit_pending или окно повтора ещё не наступило
	ExitNotAllowed ExitOutcome = iota
	// ExitLostRace - попытку уже записал другой участник
	ExitLostRace
	// ExitSkippedLiveOrder - у брокера уже висит заявка выхода
	ExitSkippedLiveOrder
	// ExitSkippedVerifyError - брокер не ответил на сверку, попытка отложена
	ExitSkippedVerifyError
	// ExitPlaced - заявка принята, исполнение подтвердит ConfirmExit
	ExitPlaced
	// ExitFilled - заявка исполнена, позиция exited
	ExitFilled
	// ExitOrderFailed - ошибка отправки, позиция остаётся exit_pending
	ExitOrderFailed
)

func (o ExitOutcome) String() string {
	switch o {
	case ExitNotAllowed:
		return "not_allowed"
	case ExitLostRace:
		return "lost_race"
	case ExitSkippedLiveOrder:
		return "skipped_live_order"
	case ExitSkippedVerifyError:
		return "skipped_verify_error"
	case ExitPlaced:
		return "placed"
	case ExitFilled:
		return "filled"
	case ExitOrderFailed:
		return "order_failed"
	default:
		return "unknown"
	}
}

// ExitManager - машина состояний выхода.
//
// entered -> exit_pending -> {exited, failed}. Каждый переход выполняется
// условным UPDATE в хранилище, поэтому гонки между тиками, воркерами и
// внешним исполнителем решаются базой: проигравший получает no-op.
// exit_pending никогда не возвращается в entered.
type ExitManager struct {
	positions    PositionStore
	retrySpacing time.Duration
	logger       *utils.Logger
	now          func() time.Time
}

// NewExitManager создаёт машину состояний выхода
func NewExitManager(positions PositionStore, retrySpacing time.Duration, logger *utils.Logger) *ExitManager {
	if retrySpacing <= 0 {
		retrySpacing = DefaultRetrySpacing
	}
	if logger == nil {
		logger = utils.L()
	}
	return &ExitManager{
		positions:    positions,
		retrySpacing: retrySpacing,
		logger:       logger.WithComponent("exit_manager"),
		now:          time.Now,
	}
}

// SetClock подменяет источник времени
func (m *ExitManager) SetClock(now func() time.Time) {
	m.now = now
}

// RequestExit переводит позицию в exit_pending и пишет RiskEvent в той же
// транзакции. Возвращает true, если переход выполнил именно этот вызов.
// Для позиции не в статусе entered это no-op.
func (m *ExitManager) RequestExit(ctx context.Context, pos *models.Position, reason string, pnl float64) (bool, error) {
	if pos.Status != models.PositionStatusEntered {
		return false, nil
	}

	now := m.now()
	ev := models.NewRiskEvent(pos, reason, pnl, now)

	ok, err := m.positions.TriggerExit(ctx, pos.ID, reason, ev, now)
	if err != nil {
		return false, fmt.Errorf("trigger exit for position %d: %w", pos.ID, err)
	}
	if !ok {
		m.logger.Debug("exit already triggered",
			utils.PositionID(pos.ID),
			utils.Reason(reason))
		return false, nil
	}

	pos.Status = models.PositionStatusExitPending
	pos.ExitReason = reason
	pos.ExitTriggeredAt = &now
	pos.ExitPendingSince = &now
	pos.ExitAttemptCount = 0
	pos.ExitRetryAfter = nil
	pos.ExitBrokerVerified = false

	RecordTrigger(reason)
	m.logger.Warn("exit triggered",
		utils.PositionID(pos.ID),
		utils.StrategyID(pos.StrategyID),
		utils.Symbol(pos.Symbol),
		utils.Reason(reason),
		utils.PNL(pnl))

	return true, nil
}

// AttemptExit выполняет одну попытку выхода через брокера.
//
// Порядок: проверка окна (CanAttemptExit); если предыдущая попытка была и
// брокер не подтвердил отсутствие заявки, сначала сверка HasLiveExitOrder;
// затем условная запись попытки (счётчик + retry_after, сброс verified) и
// только после неё PlaceExitOrder. Ошибка отправки сверяется с брокером, статус остаётся
// exit_pending.
func (m *ExitManager) AttemptExit(ctx context.Context, pos *models.Position, broker Broker) (outcome ExitOutcome, err error) {
	defer func() { RecordExitOutcome(outcome) }()

	log := m.logger.WithPositionID(pos.ID)
	now := m.now()

	if !CanAttemptExit(pos.Status, pos.ExitRetryAfter, now) {
		return ExitNotAllowed, nil
	}

	if pos.ExitAttemptCount > 0 && !pos.ExitBrokerVerified {
		live, err := broker.HasLiveExitOrder(ctx, pos)
		if err != nil {
			log.Warn("broker verification failed, exit attempt skipped", utils.Err(err))
			return ExitSkippedVerifyError, fmt.Errorf("verify exit order: %w", err)
		}
		if live {
			m.setVerified(ctx, pos, false)
			log.Info("live exit order at broker, attempt skipped")
			return ExitSkippedLiveOrder, nil
		}
		m.setVerified(ctx, pos, true)
	}

	retryAfter := now.Add(m.retrySpacing)
	ok, err := m.positions.RecordExitAttempt(ctx, pos.ID, pos.ExitAttemptCount, retryAfter, now)
	if err != nil {
		return ExitOrderFailed, fmt.Errorf("record exit attempt: %w", err)
	}
	if !ok {
		return ExitLostRace, nil
	}
	pos.ExitAttemptCount++
	pos.ExitRetryAfter = &retryAfter
	pos.ExitBrokerVerified = false

	result, err := broker.PlaceExitOrder(ctx, pos)
	if err != nil {
		log.Error("exit order failed",
			utils.Attempt(pos.ExitAttemptCount),
			utils.Err(err))
		m.verifyAfterFailure(ctx, pos, broker)
		return ExitOrderFailed, fmt.Errorf("place exit order: %w", err)
	}

	if !result.Filled {
		log.Info("exit order placed",
			utils.OrderID(result.OrderID),
			utils.Attempt(pos.ExitAttemptCount))
		return ExitPlaced, nil
	}

	if err := m.ConfirmExit(ctx, pos.ID); err != nil {
		return ExitFilled, err
	}
	pos.Status = models.PositionStatusExited
	pos.ExitBrokerVerified = true

	log.Info("exit order filled",
		utils.OrderID(result.OrderID),
		utils.Attempt(pos.ExitAttemptCount))
	return ExitFilled, nil
}

// verifyAfterFailure сверяет с брокером после ошибки отправки.
// Нет заявки - verified=true, есть заявка или сверка не удалась - false.
func (m *ExitManager) verifyAfterFailure(ctx context.Context, pos *models.Position, broker Broker) {
	live, err := broker.HasLiveExitOrder(ctx, pos)
	if err != nil {
		m.logger.Warn("broker verification after failure failed",
			utils.PositionID(pos.ID),
			utils.Err(err))
		m.setVerified(ctx, pos, false)
		return
	}
	m.setVerified(ctx, pos, !live)
}

func (m *ExitManager) setVerified(ctx context.Context, pos *models.Position, verified bool) {
	if err := m.positions.SetBrokerVerified(ctx, pos.ID, verified); err != nil {
		m.logger.Error("failed to store broker verification",
			utils.PositionID(pos.ID),
			utils.Err(err))
		return
	}
	pos.ExitBrokerVerified = verified
}

// ConfirmExit - внешнее подтверждение исполнения: exit_pending -> exited.
// Повторное подтверждение уже закрытой позиции не ошибка.
func (m *ExitManager) ConfirmExit(ctx context.Context, positionID int64) error {
	return m.finish(ctx, positionID, models.PositionStatusExited, m.positions.MarkExited)
}

// MarkFailed - внешний бюджет повторов исчерпан: exit_pending -> failed
func (m *ExitManager) MarkFailed(ctx context.Context, positionID int64) error {
	return m.finish(ctx, positionID, models.PositionStatusFailed, m.positions.MarkFailed)
}

func (m *ExitManager) finish(ctx context.Context, positionID int64, target string, mark func(context.Context, int64) (bool, error)) error {
	ok, err := mark(ctx, positionID)
	if err != nil {
		return fmt.Errorf("mark position %d %s: %w", positionID, target, err)
	}
	if ok {
		m.logger.Info("exit finished",
			utils.PositionID(positionID),
			utils.State(target))
		return nil
	}

	// переход не выполнен: выясняем почему
	pos, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, repository.ErrPositionNotFound) {
			return err
		}
		return fmt.Errorf("load position %d: %w", positionID, err)
	}
	if pos.Status == target {
		return nil
	}
	return checkTransition(positionID, pos.Status, target)
}

// ProcessPending делает по одной попытке выхода для всех позиций в
// exit_pending, у которых наступило окно повтора
func (m *ExitManager) ProcessPending(ctx context.Context, broker Broker) (map[ExitOutcome]int, error) {
	pending, err := m.positions.GetExitPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("load exit pending positions: %w", err)
	}

	outcomes := make(map[ExitOutcome]int)
	for _, pos := range pending {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		outcome, err := m.AttemptExit(ctx, pos, broker)
		if err != nil {
			m.logger.Warn("exit attempt failed",
				utils.PositionID(pos.ID),
				utils.State(outcome.String()),
				utils.Err(err))
		}
		outcomes[outcome]++
	}
	return outcomes, nil
}
