package utils

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// math.go - расчёт P&L и проверка порогов SL/TP
//
// Все функции чистые. Арифметика P&L идёт через decimal, чтобы
// (ltp - entry) * qty не накапливал двоичную погрешность на ценах вида 0.05.

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// CalculatePNL рассчитывает нереализованный P&L позиции.
//
//   - BUY:  (current - entry) × qty
//   - иначе (SELL): (entry - current) × qty
//
// Сторона сравнивается без учёта регистра и пробелов. Неположительный объём даёт 0.
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}

	entry := decimal.NewFromFloat(entryPrice)
	current := decimal.NewFromFloat(currentPrice)
	qty := decimal.NewFromFloat(quantity)

	var pnl decimal.Decimal
	if strings.EqualFold(strings.TrimSpace(side), SideBuy) {
		pnl = current.Sub(entry).Mul(qty)
	} else {
		pnl = entry.Sub(current).Mul(qty)
	}

	f, _ := pnl.Float64()
	return f
}

// IsStopLossHit - pnl <= -|stopLoss|. Нулевой порог отключает проверку.
func IsStopLossHit(pnl, stopLoss float64) bool {
	if stopLoss == 0 {
		return false
	}
	return pnl <= -math.Abs(stopLoss)
}

// IsTakeProfitHit - pnl >= |takeProfit|. Нулевой порог отключает проверку.
func IsTakeProfitHit(pnl, takeProfit float64) bool {
	if takeProfit == 0 {
		return false
	}
	return pnl >= math.Abs(takeProfit)
}
