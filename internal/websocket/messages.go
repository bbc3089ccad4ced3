package websocket

import (
	"time"

	"riskwatch/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePrices - снапшот последних цен подписанных инструментов.
	// Отправляется при каждом изменении хранилища цен и новому клиенту при подключении.
	MessageTypePrices MessageType = "prices"

	// MessageTypeStatus - состояние сессии потока котировок
	MessageTypeStatus MessageType = "status"
)

// PricesMessage - {"type":"prices","data":{...снапшот...}}
type PricesMessage struct {
	Type MessageType           `json:"type"`
	Data *models.PriceSnapshot `json:"data"`
}

// NewPricesMessage оборачивает снапшот в сообщение
func NewPricesMessage(snap *models.PriceSnapshot) *PricesMessage {
	return &PricesMessage{
		Type: MessageTypePrices,
		Data: snap,
	}
}

// StatusMessage - короткое уведомление о смене состояния сессии
type StatusMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewStatusMessage создаёт сообщение о состоянии
func NewStatusMessage(status interface{}, at time.Time) *StatusMessage {
	return &StatusMessage{
		Type:      MessageTypeStatus,
		Timestamp: at,
		Data:      status,
	}
}
