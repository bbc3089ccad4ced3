package feed

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskwatch/internal/models"
)

// messages.go - JSON протокол потока котировок
//
// Исходящие:
//
//	{"action":"authenticate","api_key":"..."}
//	{"action":"subscribe","symbol":"INFY","exchange":"NSE","mode":2,"depth":5}
//	{"action":"unsubscribe","symbol":"INFY","exchange":"NSE","mode":2}
//
// Входящие котировки приходят в двух формах:
//
//	{"type":"market_data","symbol":"INFY","exchange":"NSE","data":{"ltp":1605.8,...}}
//	{"symbol":"INFY","ltp":1605.8}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Действия исходящих сообщений
const (
	ActionAuthenticate = "authenticate"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
)

// Режим подписки: 2 = quote (LTP + OHLC + объём)
const (
	ModeQuote    = 2
	DefaultDepth = 5
)

// Ошибки разбора
var (
	ErrMalformedMessage = errors.New("malformed feed message")
	ErrInvalidTick      = errors.New("tick without symbol or positive ltp")
)

// AuthRequest - запрос аутентификации
type AuthRequest struct {
	Action string `json:"action"`
	APIKey string `json:"api_key"`
}

// SubscriptionRequest - запрос подписки/отписки на инструмент
type SubscriptionRequest struct {
	Action   string `json:"action"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Mode     int    `json:"mode"`
	Depth    int    `json:"depth,omitempty"`
}

// NewSubscribe собирает запрос подписки в режиме quote
func NewSubscribe(inst models.Instrument) SubscriptionRequest {
	return SubscriptionRequest{
		Action:   ActionSubscribe,
		Symbol:   inst.Symbol,
		Exchange: inst.Exchange,
		Mode:     ModeQuote,
		Depth:    DefaultDepth,
	}
}

// NewUnsubscribe собирает запрос отписки
func NewUnsubscribe(inst models.Instrument) SubscriptionRequest {
	return SubscriptionRequest{
		Action:   ActionUnsubscribe,
		Symbol:   inst.Symbol,
		Exchange: inst.Exchange,
		Mode:     ModeQuote,
	}
}

// Encode сериализует исходящее сообщение
func Encode(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// MessageKind - тип входящего сообщения
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindAuth
	KindTick
	KindSubscription
	KindError
)

func (k MessageKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTick:
		return "tick"
	case KindSubscription:
		return "subscription"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Inbound - разобранное входящее сообщение
type Inbound struct {
	Kind    MessageKind
	Type    string
	Status  string
	Message string
	Tick    models.Tick
}

// AuthSucceeded - подтверждение успешной аутентификации
func (m Inbound) AuthSucceeded() bool {
	return m.Kind == KindAuth && strings.EqualFold(m.Status, "success")
}

// number принимает и число, и число в строке ("1605.80")
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type quoteFields struct {
	LTP    number `json:"ltp"`
	Open   number `json:"open"`
	High   number `json:"high"`
	Low    number `json:"low"`
	Close  number `json:"close"`
	Volume number `json:"volume"`
}

type envelope struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`

	quoteFields
	Data *quoteFields `json:"data"`
}

// ParseMessage разбирает входящее сообщение. receivedAt становится
// временем тика: метка биржи не используется для порядка обновлений.
func ParseMessage(data []byte, receivedAt time.Time) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, ErrMalformedMessage
	}

	msg := Inbound{
		Type:    env.Type,
		Status:  env.Status,
		Message: env.Message,
	}

	switch strings.ToLower(env.Type) {
	case "auth", "authenticate":
		msg.Kind = KindAuth
		return msg, nil
	case "error":
		msg.Kind = KindError
		return msg, nil
	case "subscribe", "unsubscribe", "subscription":
		msg.Kind = KindSubscription
		return msg, nil
	}

	isTick := env.Type == "market_data" || (env.Symbol != "" && (env.Data != nil || env.LTP != 0))
	if !isTick {
		if strings.EqualFold(env.Status, "error") {
			msg.Kind = KindError
		}
		return msg, nil
	}

	q := env.quoteFields
	if env.Data != nil {
		q = *env.Data
	}
	if env.Symbol == "" || q.LTP <= 0 {
		return msg, ErrInvalidTick
	}

	msg.Kind = KindTick
	msg.Tick = models.Tick{
		Symbol:    env.Symbol,
		Exchange:  env.Exchange,
		LTP:       float64(q.LTP),
		Open:      float64(q.Open),
		High:      float64(q.High),
		Low:       float64(q.Low),
		Close:     float64(q.Close),
		Volume:    float64(q.Volume),
		Timestamp: receivedAt,
	}
	return msg, nil
}
