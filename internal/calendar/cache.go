package calendar

import (
	"context"
	"sync"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// cache.go - кеш торгового календаря биржи
//
// Календарь читается из БД один раз в сутки в окне 05:00-05:05 по времени
// биржи (или сразу, если ещё не загружался). Ошибка чтения или пустое
// расписание - переход на расписание по умолчанию (Пн-Пт 09:15-15:30)
// без праздников. Все проверки выполняются в часовом поясе биржи.

// Параметры по умолчанию
const (
	DefaultPreOpenBuffer = 15 * time.Minute
	DefaultFallbackWait  = time.Hour

	refreshHour   = 5
	refreshWindow = 5 * time.Minute
	lookaheadDays = 7
	fallbackRetry = time.Minute
)

// Source - источник данных календаря (repository.CalendarRepository)
type Source interface {
	ActiveSessions(ctx context.Context) ([]models.TradingSession, error)
	Holidays(ctx context.Context, from, to time.Time) ([]models.MarketHoliday, error)
	SpecialSessions(ctx context.Context, from, to time.Time) ([]models.SpecialSession, error)
}

// Config - параметры кеша
type Config struct {
	Location      *time.Location
	PreOpenBuffer time.Duration
	FallbackWait  time.Duration
}

// Cache - потокобезопасный кеш календаря
type Cache struct {
	source Source
	loc    *time.Location
	buffer time.Duration
	wait   time.Duration
	logger *utils.Logger

	mu   sync.RWMutex
	snap *models.CalendarSnapshot

	onFallback func()
}

// NewCache создаёт кеш. До первого Refresh календарь пуст и IsOpen вернёт
// результат по расписанию по умолчанию.
func NewCache(source Source, cfg Config, logger *utils.Logger) *Cache {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PreOpenBuffer < 0 {
		cfg.PreOpenBuffer = DefaultPreOpenBuffer
	}
	if cfg.FallbackWait <= 0 {
		cfg.FallbackWait = DefaultFallbackWait
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Cache{
		source: source,
		loc:    cfg.Location,
		buffer: cfg.PreOpenBuffer,
		wait:   cfg.FallbackWait,
		logger: logger.WithComponent("calendar"),
	}
}

// SetFallbackHook регистрирует функцию, вызываемую при каждом переходе на
// расписание по умолчанию (используется для метрики)
func (c *Cache) SetFallbackHook(fn func()) {
	c.mu.Lock()
	c.onFallback = fn
	c.mu.Unlock()
}

// Location - часовой пояс биржи
func (c *Cache) Location() *time.Location {
	return c.loc
}

// Snapshot возвращает текущий снапшот (nil до первой загрузки)
func (c *Cache) Snapshot() *models.CalendarSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// current возвращает снапшот для вычислений, не допуская пустого расписания
func (c *Cache) current(now time.Time) *models.CalendarSnapshot {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil || len(snap.Sessions) == 0 {
		return models.DefaultCalendar(now)
	}
	return snap
}

// NeedsRefresh - календарь ещё не загружен, действует расписание по умолчанию
// дольше минуты, либо сейчас окно 05:00-05:05 и сегодня загрузки не было
func (c *Cache) NeedsRefresh(now time.Time) bool {
	now = utils.ToLocation(now, c.loc)

	snap := c.Snapshot()
	if snap == nil {
		return true
	}
	// расписание по умолчанию - временное, БД опрашивается повторно
	if snap.Fallback && now.Sub(snap.RefreshedAt) >= fallbackRetry {
		return true
	}

	windowStart := utils.GetDayStartFrom(now).Add(refreshHour * time.Hour)
	if now.Before(windowStart) || !now.Before(windowStart.Add(refreshWindow)) {
		return false
	}
	return utils.DateKey(utils.ToLocation(snap.RefreshedAt, c.loc)) != utils.DateKey(now)
}

// MaybeRefresh перезагружает календарь, если этого требует политика обновления.
// Возвращает true, если загрузка выполнялась.
func (c *Cache) MaybeRefresh(ctx context.Context, now time.Time) bool {
	if !c.NeedsRefresh(now) {
		return false
	}
	c.Refresh(ctx, now)
	return true
}

// Refresh загружает сессии, праздники и спецсессии текущего и следующего года.
// При ошибке источника или пустом расписании ставит расписание по умолчанию.
func (c *Cache) Refresh(ctx context.Context, now time.Time) {
	now = utils.ToLocation(now, c.loc)

	snap, err := c.load(ctx, now)
	if err != nil {
		c.logger.Warn("calendar load failed, using default schedule", utils.Err(err))
		c.setFallback(now)
		return
	}
	if len(snap.Sessions) == 0 {
		c.logger.Warn("no active trading sessions configured, using default schedule")
		c.setFallback(now)
		return
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.logger.Info("trading calendar refreshed",
		utils.Int("sessions", len(snap.Sessions)),
		utils.Int("holidays", len(snap.Holidays)),
		utils.Int("special_days", len(snap.Specials)),
	)
}

func (c *Cache) load(ctx context.Context, now time.Time) (*models.CalendarSnapshot, error) {
	from := utils.GetYearStartFrom(now)
	to := utils.GetYearEndFrom(from.AddDate(1, 0, 0))

	sessions, err := c.source.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	holidays, err := c.source.Holidays(ctx, from, to)
	if err != nil {
		return nil, err
	}
	specials, err := c.source.SpecialSessions(ctx, from, to)
	if err != nil {
		return nil, err
	}

	snap := &models.CalendarSnapshot{
		Sessions:    make([]models.TradingSession, 0, len(sessions)),
		Holidays:    make(map[string]models.MarketHoliday, len(holidays)),
		Specials:    make(map[string][]models.SpecialSession),
		RefreshedAt: now,
	}
	for _, s := range sessions {
		if s.IsActive {
			snap.Sessions = append(snap.Sessions, s)
		}
	}
	for _, h := range holidays {
		snap.Holidays[h.Date] = h
	}
	for _, s := range specials {
		if s.IsActive {
			snap.Specials[s.Date] = append(snap.Specials[s.Date], s)
		}
	}
	return snap, nil
}

func (c *Cache) setFallback(now time.Time) {
	c.mu.Lock()
	c.snap = models.DefaultCalendar(now)
	hook := c.onFallback
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// IsOpen - открыт ли рынок (с учётом буфера перед открытием) в момент now.
//
// Порядок проверок, первое совпадение решает:
// 1. спецсессия сегодня и now в (start-buffer, end] - открыт
// 2. сегодня праздник без спецсессии - закрыт
// 3. недельная сессия сегодня и now в (start-buffer, end] - открыт
//
// Сам момент start-buffer ещё считается закрытым: это точка, до которой
// спит планировщик по NextOpenAfter.
func (c *Cache) IsOpen(now time.Time) bool {
	now = utils.ToLocation(now, c.loc)
	snap := c.current(now)
	key := utils.DateKey(now)

	for _, s := range snap.Specials[key] {
		if c.within(now, s.StartTime, s.EndTime) {
			return true
		}
	}

	if snap.IsClosingHoliday(key) {
		return false
	}

	day := utils.WeekdayIndex(now)
	for _, s := range snap.Sessions {
		if s.IsActive && s.DayOfWeek == day && c.within(now, s.StartTime, s.EndTime) {
			return true
		}
	}
	return false
}

func (c *Cache) within(now time.Time, start, end models.TimeOfDay) bool {
	open := start.On(now).Add(-c.buffer)
	closeAt := end.On(now)
	return now.After(open) && !now.After(closeAt)
}

// NextOpenAfter - время до ближайшего открытия (начало сессии минус буфер),
// не раньше now. Просматривается сегодня и 7 следующих дней, праздники без
// спецсессии пропускаются. Если ничего не найдено - FallbackWait (1 час).
func (c *Cache) NextOpenAfter(now time.Time) time.Duration {
	now = utils.ToLocation(now, c.loc)
	snap := c.current(now)
	today := utils.GetDayStartFrom(now)

	for i := 0; i <= lookaheadDays; i++ {
		date := utils.AddDays(today, i)
		if next, ok := c.earliestOpen(snap, date, now); ok {
			return next.Sub(now)
		}
	}
	return c.wait
}

// earliestOpen ищет самое раннее открытие в день date, не раньше now
func (c *Cache) earliestOpen(snap *models.CalendarSnapshot, date, now time.Time) (time.Time, bool) {
	key := utils.DateKey(date)
	var best time.Time
	found := false

	consider := func(start models.TimeOfDay) {
		open := start.On(date).Add(-c.buffer)
		if open.Before(now) {
			return
		}
		if !found || open.Before(best) {
			best = open
			found = true
		}
	}

	for _, s := range snap.Specials[key] {
		consider(s.StartTime)
	}

	if !snap.IsClosingHoliday(key) {
		day := utils.WeekdayIndex(date)
		for _, s := range snap.Sessions {
			if s.IsActive && s.DayOfWeek == day {
				consider(s.StartTime)
			}
		}
	}

	return best, found
}
