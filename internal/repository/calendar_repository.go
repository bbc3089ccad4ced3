package repository

import (
	"context"
	"database/sql"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// CalendarRepository - чтение торгового календаря:
// trading_sessions, market_holidays, special_trading_sessions
type CalendarRepository struct {
	db *sql.DB
}

// NewCalendarRepository создает новый экземпляр репозитория
func NewCalendarRepository(db *sql.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ActiveSessions возвращает активные недельные сессии
func (r *CalendarRepository) ActiveSessions(ctx context.Context) ([]models.TradingSession, error) {
	query := `
		SELECT id, day_of_week, start_time, end_time, is_active
		FROM trading_sessions
		WHERE is_active = TRUE
		ORDER BY day_of_week, start_time`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.TradingSession
	for rows.Next() {
		var s models.TradingSession
		if err := rows.Scan(&s.ID, &s.DayOfWeek, &s.StartTime, &s.EndTime, &s.IsActive); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// Holidays возвращает праздники в диапазоне дат [from, to]
func (r *CalendarRepository) Holidays(ctx context.Context, from, to time.Time) ([]models.MarketHoliday, error) {
	query := `
		SELECT CAST(holiday_date AS TEXT), holiday_name, is_special_session
		FROM market_holidays
		WHERE holiday_date >= $1 AND holiday_date <= $2
		ORDER BY holiday_date`

	rows, err := r.db.QueryContext(ctx, query, utils.DateKey(from), utils.DateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []models.MarketHoliday
	for rows.Next() {
		var h models.MarketHoliday
		var name sql.NullString
		if err := rows.Scan(&h.Date, &name, &h.IsSpecialSession); err != nil {
			return nil, err
		}
		h.Date = normalizeDate(h.Date)
		h.Name = name.String
		holidays = append(holidays, h)
	}

	return holidays, rows.Err()
}

// SpecialSessions возвращает активные специальные сессии в диапазоне дат [from, to]
func (r *CalendarRepository) SpecialSessions(ctx context.Context, from, to time.Time) ([]models.SpecialSession, error) {
	query := `
		SELECT CAST(session_date AS TEXT), session_name, start_time, end_time, is_active
		FROM special_trading_sessions
		WHERE session_date >= $1 AND session_date <= $2 AND is_active = TRUE
		ORDER BY session_date, start_time`

	rows, err := r.db.QueryContext(ctx, query, utils.DateKey(from), utils.DateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specials []models.SpecialSession
	for rows.Next() {
		var s models.SpecialSession
		var name sql.NullString
		if err := rows.Scan(&s.Date, &name, &s.StartTime, &s.EndTime, &s.IsActive); err != nil {
			return nil, err
		}
		s.Date = normalizeDate(s.Date)
		s.Name = name.String
		specials = append(specials, s)
	}

	return specials, rows.Err()
}

// normalizeDate обрезает "2024-01-26 00:00:00" и подобное до "2024-01-26"
func normalizeDate(s string) string {
	if len(s) > len(utils.DateLayout) {
		return s[:len(utils.DateLayout)]
	}
	return s
}
