package bot

import (
	"context"
	"fmt"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// RiskEvaluator - проверка SL/TP открытых позиций по каждому тику
//
// Функции:
// - Чтение позиций entered по символу (и бирже) тика
// - Расчёт нереализованного P&L и запись current_price / unrealized_pnl
// - Проверка порогов и перевод позиции в exit_pending через ExitManager
//
// Ошибка записи цены не останавливает проверку порогов: срабатывание
// важнее актуальности отображаемой цены.
type RiskEvaluator struct {
	positions PositionStore
	exits     *ExitManager
	logger    *utils.Logger
}

// NewRiskEvaluator создаёт оценщик риска
func NewRiskEvaluator(positions PositionStore, exits *ExitManager, logger *utils.Logger) *RiskEvaluator {
	if logger == nil {
		logger = utils.L()
	}
	return &RiskEvaluator{
		positions: positions,
		exits:     exits,
		logger:    logger.WithComponent("risk_evaluator"),
	}
}

// EvaluateThresholds проверяет пороги для одного значения P&L.
// Стоп-лосс проверяется первым; срабатывает не более одного порога.
func EvaluateThresholds(pnl, stopLoss, takeProfit float64) (reason string, hit bool) {
	if utils.IsStopLossHit(pnl, stopLoss) {
		return models.ExitReasonStopLoss, true
	}
	if utils.IsTakeProfitHit(pnl, takeProfit) {
		return models.ExitReasonTakeProfit, true
	}
	return "", false
}

// OnTick проверяет все открытые позиции по инструменту тика
func (r *RiskEvaluator) OnTick(ctx context.Context, tick models.Tick) error {
	start := time.Now()
	defer func() {
		RecordEvaluation(float64(time.Since(start).Microseconds()) / 1000)
	}()

	positions, err := r.positions.GetOpenBySymbol(ctx, tick.Symbol, tick.Exchange)
	if err != nil {
		r.logger.Error("failed to load open positions",
			utils.Symbol(tick.Symbol),
			utils.Exchange(tick.Exchange),
			utils.Err(err))
		return fmt.Errorf("load open positions for %s: %w", tick.Key(), err)
	}

	for _, pos := range positions {
		r.evaluate(ctx, pos, tick.LTP)
	}
	return nil
}

// evaluate обрабатывает одну позицию
func (r *RiskEvaluator) evaluate(ctx context.Context, pos *models.Position, ltp float64) {
	pnl := utils.CalculatePNL(pos.Side, pos.EntryPrice, ltp, pos.Quantity)

	if err := r.positions.UpdatePrice(ctx, pos.ID, ltp, pnl); err != nil {
		r.logger.Warn("failed to store position price",
			utils.PositionID(pos.ID),
			utils.Symbol(pos.Symbol),
			utils.Price(ltp),
			utils.Err(err))
	} else {
		pos.CurrentPrice = ltp
		pos.UnrealizedPnl = pnl
	}

	reason, hit := EvaluateThresholds(pnl, pos.StopLoss, pos.TakeProfit)
	if !hit {
		return
	}

	if _, err := r.exits.RequestExit(ctx, pos, reason, pnl); err != nil {
		r.logger.Error("failed to trigger exit",
			utils.PositionID(pos.ID),
			utils.Symbol(pos.Symbol),
			utils.Reason(reason),
			utils.PNL(pnl),
			utils.Err(err))
	}
}
