package models

import "time"

// RiskEvent - неизменяемая запись аудита срабатывания SL/TP (risk_events)
type RiskEvent struct {
	ID           int64     `json:"id" db:"id"`
	StrategyID   int64     `json:"strategy_id" db:"strategy_id"`
	ExecutionID  int64     `json:"execution_id" db:"execution_id"`
	EventType    string    `json:"event_type" db:"event_type"` // stop_loss, take_profit
	TriggerValue float64   `json:"trigger_value" db:"trigger_value"`
	ActionTaken  string    `json:"action_taken" db:"action_taken"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ActionExitTriggered - единственное действие, которое пишет сервис
const ActionExitTriggered = "exit_triggered"

// NewRiskEvent создаёт событие для позиции
func NewRiskEvent(pos *Position, reason string, pnl float64, at time.Time) *RiskEvent {
	return &RiskEvent{
		StrategyID:   pos.StrategyID,
		ExecutionID:  pos.ID,
		EventType:    reason,
		TriggerValue: pnl,
		ActionTaken:  ActionExitTriggered,
		CreatedAt:    at,
	}
}
