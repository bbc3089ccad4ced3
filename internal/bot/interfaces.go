package bot

import (
	"context"
	"time"

	"riskwatch/internal/models"
	"riskwatch/internal/repository"
)

// PositionStore - хранилище позиций, которым пользуется ядро.
//
// Реализуется repository.PositionRepository. Все методы переходов статуса
// условные: false без ошибки означает, что переход уже выполнил другой
// участник (или условие окна повтора не выполнено).
type PositionStore interface {
	GetOpenInstruments(ctx context.Context) ([]models.Instrument, error)
	GetOpenBySymbol(ctx context.Context, symbol, exchange string) ([]*models.Position, error)
	GetExitPending(ctx context.Context) ([]*models.Position, error)
	GetByID(ctx context.Context, id int64) (*models.Position, error)
	UpdatePrice(ctx context.Context, id int64, price, pnl float64) error

	TriggerExit(ctx context.Context, id int64, reason string, ev *models.RiskEvent, now time.Time) (bool, error)
	RecordExitAttempt(ctx context.Context, id int64, prevCount int, retryAfter, now time.Time) (bool, error)
	SetBrokerVerified(ctx context.Context, id int64, verified bool) error
	MarkExited(ctx context.Context, id int64) (bool, error)
	MarkFailed(ctx context.Context, id int64) (bool, error)
}

// ExitOrderResult - ответ брокера на заявку выхода
type ExitOrderResult struct {
	OrderID string
	Filled  bool
}

// Broker - внешний исполнитель заявок выхода.
//
// PlaceExitOrder отправляет заявку на закрытие позиции. HasLiveExitOrder
// отвечает, висит ли у брокера активная заявка выхода по позиции; нужен,
// чтобы после неоднозначной ошибки не отправить вторую заявку.
type Broker interface {
	PlaceExitOrder(ctx context.Context, pos *models.Position) (ExitOrderResult, error)
	HasLiveExitOrder(ctx context.Context, pos *models.Position) (bool, error)
}

// Publisher - получатель снапшотов цен (файл, websocket hub)
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snapshot *models.PriceSnapshot) error
}

// TickHandler - обработчик тика в воркере диспетчера
type TickHandler interface {
	OnTick(ctx context.Context, tick models.Tick) error
}

// Проверяем, что репозиторий реализует интерфейс ядра
var _ PositionStore = (*repository.PositionRepository)(nil)
