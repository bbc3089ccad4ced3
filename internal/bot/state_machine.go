package bot

import (
	"errors"
	"fmt"
	"time"

	"riskwatch/internal/models"
)

// ValidExitTransitions определяет допустимые переходы статуса позиции.
// exit_pending не возвращается в entered: повторы идут внутри exit_pending.
var ValidExitTransitions = map[string][]string{
	models.PositionStatusEntered:     {models.PositionStatusExitPending},
	models.PositionStatusExitPending: {models.PositionStatusExited, models.PositionStatusFailed},
	models.PositionStatusExited:      {}, // терминальный
	models.PositionStatusFailed:      {}, // терминальный, дальше только вручную
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidExitTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrExitNotAllowed - переход статуса позиции недопустим
var ErrExitNotAllowed = errors.New("exit transition not allowed")

// StateTransitionError - ошибка недопустимого перехода
type StateTransitionError struct {
	PositionID int64
	From       string
	To         string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("position %d: invalid transition %s -> %s", e.PositionID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error {
	return ErrExitNotAllowed
}

// checkTransition возвращает *StateTransitionError, если переход недопустим
func checkTransition(positionID int64, from, to string) error {
	if !CanTransition(from, to) {
		return &StateTransitionError{PositionID: positionID, From: from, To: to}
	}
	return nil
}

// CanAttemptExit - разрешена ли новая попытка выхода.
// Только exit_pending, и только когда окно повтора уже наступило.
func CanAttemptExit(status string, retryAfter *time.Time, now time.Time) bool {
	if status != models.PositionStatusExitPending {
		return false
	}
	return retryAfter == nil || !now.Before(*retryAfter)
}

// StatusInfo возвращает описание статуса для API оператора
func StatusInfo(s string) string {
	switch s {
	case models.PositionStatusEntered:
		return "Позиция открыта, идёт контроль SL/TP"
	case models.PositionStatusExitPending:
		return "Порог сработал, ожидается выход"
	case models.PositionStatusExited:
		return "Выход подтверждён брокером"
	case models.PositionStatusFailed:
		return "Выход не удался! Требуется вмешательство"
	default:
		return "Неизвестный статус"
	}
}
