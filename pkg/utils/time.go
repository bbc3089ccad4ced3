package utils

import (
	"context"
	"time"
)

// time.go - утилиты для работы со временем биржи
//
// Все функции работают в локации переданного времени: календарь
// биржи считается в её часовом поясе, а не в UTC.
//
// Функции:
// - GetDayStartFrom / GetYearStartFrom / GetYearEndFrom: границы периодов
// - DateKey: ключ дня "2006-01-02" для карт праздников
// - WeekdayIndex: день недели, где 0 = понедельник
// - SleepContext: сон с учётом контекста, частями

// DateLayout - формат ключа даты
const DateLayout = "2006-01-02"

// ============================================================
// Границы периодов
// ============================================================

// GetDayStartFrom возвращает начало дня (00:00:00) в локации t
func GetDayStartFrom(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GetYearStartFrom возвращает 1 января года t в локации t
func GetYearStartFrom(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// GetYearEndFrom возвращает 31 декабря года t в локации t
func GetYearEndFrom(t time.Time) time.Time {
	return time.Date(t.Year(), time.December, 31, 23, 59, 59, 999999999, t.Location())
}

// AddDays сдвигает дату на n календарных дней, сохраняя время суток.
// В отличие от Add(24h) корректно переживает переход на летнее время.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DateKey возвращает дату в формате 2006-01-02
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// WeekdayIndex - день недели с понедельника: Mon=0 ... Sun=6
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// ============================================================
// Длительности
// ============================================================

// MinDuration возвращает меньшую из двух длительностей
func MinDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// FormatDuration форматирует продолжительность, отбрасывая доли секунды
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "62h45m0s"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Truncate(time.Second).String()
}

// SleepContext спит d, просыпаясь не реже чем раз в chunk.
// Возвращает ctx.Err(), если контекст отменён раньше.
func SleepContext(ctx context.Context, d, chunk time.Duration) error {
	if chunk <= 0 {
		chunk = d
	}
	for d > 0 {
		step := MinDuration(d, chunk)
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= step
	}
	return ctx.Err()
}

// ============================================================
// Функции для timezone
// ============================================================

// LoadLocation загружает часовой пояс, при ошибке возвращает UTC и ошибку
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// ToLocation конвертирует время в указанную timezone
func ToLocation(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}
