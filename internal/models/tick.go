package models

import (
	"strings"
	"time"
)

// Tick - котировка из потока. Не сохраняется, в памяти живёт только последняя по ключу.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	LTP       float64   `json:"ltp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Key - "EXCH:SYM"
func (t *Tick) Key() string {
	return InstrumentKey(t.Exchange, t.Symbol)
}

// InstrumentKey собирает ключ "EXCH:SYM"; пустая биржа заменяется на DefaultExchange
func InstrumentKey(exchange, symbol string) string {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return exchange + ":" + symbol
}

// SplitInstrumentKey - обратная операция к InstrumentKey
func SplitInstrumentKey(key string) (exchange, symbol string, ok bool) {
	exchange, symbol, ok = strings.Cut(key, ":")
	if !ok || exchange == "" || symbol == "" {
		return "", "", false
	}
	return exchange, symbol, true
}

// PriceEntry - запись о цене в публикуемом снапшоте
type PriceEntry struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	LTP       float64   `json:"ltp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPriceEntry переносит тик в запись снапшота
func NewPriceEntry(t Tick) PriceEntry {
	return PriceEntry{
		Symbol:    t.Symbol,
		Exchange:  t.Exchange,
		LTP:       t.LTP,
		Open:      t.Open,
		High:      t.High,
		Low:       t.Low,
		Close:     t.Close,
		Volume:    t.Volume,
		Timestamp: t.Timestamp,
	}
}

// PriceSnapshot - полный снимок цен для публикации другим процессам.
// Version монотонно растёт, публикаторы пропускают устаревшие версии.
type PriceSnapshot struct {
	Prices        map[string]PriceEntry `json:"prices"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Subscriptions []string              `json:"subscriptions"`
	Version       uint64                `json:"-"`
}
