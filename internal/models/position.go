package models

import "time"

// Position - исполненная позиция стратегии (strategy_executions).
// StopLoss и TakeProfit подтягиваются из strategies.
type Position struct {
	ID            int64   `json:"id" db:"id"`
	StrategyID    int64   `json:"strategy_id" db:"strategy_id"`
	Symbol        string  `json:"symbol" db:"symbol"`
	Exchange      string  `json:"exchange" db:"exchange"`
	Side          string  `json:"side" db:"side"` // BUY, SELL
	Quantity      float64 `json:"quantity" db:"quantity"`
	EntryPrice    float64 `json:"entry_price" db:"entry_price"`
	CurrentPrice  float64 `json:"current_price" db:"current_price"`
	UnrealizedPnl float64 `json:"unrealized_pnl" db:"unrealized_pnl"`
	Status        string  `json:"status" db:"status"`

	ExitReason         string     `json:"exit_reason,omitempty" db:"exit_reason"`
	ExitTriggeredAt    *time.Time `json:"exit_triggered_at,omitempty" db:"exit_triggered_at"`
	ExitRetryAfter     *time.Time `json:"exit_retry_after,omitempty" db:"exit_retry_after"`
	ExitAttemptCount   int        `json:"exit_attempt_count" db:"exit_attempt_count"`
	ExitPendingSince   *time.Time `json:"exit_pending_since,omitempty" db:"exit_pending_since"`
	ExitBrokerVerified bool       `json:"exit_broker_verified" db:"exit_broker_verified"`

	StopLoss   float64 `json:"stop_loss" db:"stop_loss"`
	TakeProfit float64 `json:"take_profit" db:"take_profit"`
}

// Статусы позиции
const (
	PositionStatusEntered     = "entered"
	PositionStatusExitPending = "exit_pending"
	PositionStatusExited      = "exited"
	PositionStatusFailed      = "failed"
)

// Причины выхода (совпадают с risk_events.event_type)
const (
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
)

// DefaultExchange подставляется, если у позиции не указана биржа
const DefaultExchange = "NFO"

// Key - ключ инструмента позиции в хранилище цен
func (p *Position) Key() string {
	return InstrumentKey(p.Exchange, p.Symbol)
}

// IsTerminal - позиция закрыта или выход провален
func (p *Position) IsTerminal() bool {
	return p.Status == PositionStatusExited || p.Status == PositionStatusFailed
}

// Strategy - пороги риска стратегии. Значения - модули, 0 отключает порог.
type Strategy struct {
	ID         int64   `json:"id" db:"id"`
	Name       string  `json:"name" db:"name"`
	StopLoss   float64 `json:"stop_loss" db:"stop_loss"`
	TakeProfit float64 `json:"take_profit" db:"take_profit"`
}

// Instrument - пара биржа/символ для подписки
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// Key - "EXCH:SYM"
func (i Instrument) Key() string {
	return InstrumentKey(i.Exchange, i.Symbol)
}
