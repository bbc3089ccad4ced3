package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// TimeOfDay - смещение от полуночи (время начала/конца сессии)
type TimeOfDay time.Duration

// NewTimeOfDay собирает TimeOfDay из часов и минут
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

var timeOfDayLayouts = []string{"15:04:05.999999", "15:04:05", "15:04"}

// ParseTimeOfDay разбирает "15:04", "15:04:05" и "15:04:05.000000"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return fromClock(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func fromClock(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
}

// On возвращает момент времени этого смещения в день date (в локации date)
func (t TimeOfDay) On(date time.Time) time.Time {
	d := time.Duration(t)
	return time.Date(date.Year(), date.Month(), date.Day(),
		int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second), 0,
		date.Location())
}

// String - формат "15:04"
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Scan реализует sql.Scanner: sqlite отдаёт TIME строкой, postgres - строкой или time.Time
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		*t = parsed
	case []byte:
		parsed, err := ParseTimeOfDay(string(v))
		if err != nil {
			return err
		}
		*t = parsed
	case time.Time:
		*t = fromClock(v)
	case nil:
		*t = 0
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
	return nil
}

// Value реализует driver.Valuer
func (t TimeOfDay) Value() (driver.Value, error) {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second)), nil
}

// TradingSession - еженедельное окно торгов (trading_sessions)
type TradingSession struct {
	ID        int64     `json:"id" db:"id"`
	DayOfWeek int       `json:"day_of_week" db:"day_of_week"` // 0 = понедельник
	StartTime TimeOfDay `json:"start_time" db:"start_time"`
	EndTime   TimeOfDay `json:"end_time" db:"end_time"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

// MarketHoliday - праздник (market_holidays).
// IsSpecialSession=false закрывает рынок на весь день.
type MarketHoliday struct {
	Date             string `json:"date" db:"holiday_date"` // 2006-01-02
	Name             string `json:"name" db:"holiday_name"`
	IsSpecialSession bool   `json:"is_special_session" db:"is_special_session"`
}

// SpecialSession - разовое окно торгов вне недельного расписания (special_trading_sessions)
type SpecialSession struct {
	Date      string    `json:"date" db:"session_date"` // 2006-01-02
	Name      string    `json:"name" db:"session_name"`
	StartTime TimeOfDay `json:"start_time" db:"start_time"`
	EndTime   TimeOfDay `json:"end_time" db:"end_time"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

// CalendarSnapshot - кешированное состояние календаря. Sessions никогда не пустой.
type CalendarSnapshot struct {
	Sessions    []TradingSession
	Holidays    map[string]MarketHoliday
	Specials    map[string][]SpecialSession
	RefreshedAt time.Time
	Fallback    bool
}

// IsClosingHoliday - праздник без специальной сессии на дату key
func (s *CalendarSnapshot) IsClosingHoliday(key string) bool {
	h, ok := s.Holidays[key]
	return ok && !h.IsSpecialSession
}

// DefaultSessions - Пн-Пт 09:15-15:30
func DefaultSessions() []TradingSession {
	sessions := make([]TradingSession, 0, 5)
	for day := 0; day < 5; day++ {
		sessions = append(sessions, TradingSession{
			DayOfWeek: day,
			StartTime: NewTimeOfDay(9, 15),
			EndTime:   NewTimeOfDay(15, 30),
			IsActive:  true,
		})
	}
	return sessions
}

// DefaultCalendar - снапшот с расписанием по умолчанию и пустыми праздниками
func DefaultCalendar(now time.Time) *CalendarSnapshot {
	return &CalendarSnapshot{
		Sessions:    DefaultSessions(),
		Holidays:    map[string]MarketHoliday{},
		Specials:    map[string][]SpecialSession{},
		RefreshedAt: now,
		Fallback:    true,
	}
}
