package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/ratelimit"
	"riskwatch/pkg/utils"
)

// Ошибки соединения
var (
	ErrAuthFailed         = errors.New("feed authentication failed")
	ErrAuthTimeout        = errors.New("feed authentication timed out")
	ErrNotConnected       = errors.New("feed connection is not active")
	ErrReconnectExhausted = errors.New("feed reconnect attempts exhausted")
	ErrConnectInProgress  = errors.New("feed connection attempt already in progress")
)

// State - состояние соединения с потоком котировок
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateActive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// DefaultReconnectDelays - фиксированная последовательность задержек переподключения
var DefaultReconnectDelays = []time.Duration{
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// Config - параметры соединения
type Config struct {
	URL    string
	APIKey string

	ConnectTimeout time.Duration
	AuthTimeout    time.Duration

	// Сообщений подписки в секунду
	SubscribeRate float64

	ReconnectDelays []time.Duration
}

// SleepFunc - ожидание между попытками; должна вернуться раньше при отмене ctx
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	return utils.SleepContext(ctx, d, time.Second)
}

type authResult struct {
	ok      bool
	message string
}

// Connection - жизненный цикл соединения с потоком котировок.
//
// Disconnected -> Connecting -> Authenticating -> Active -> Reconnecting -> ...
//
// Connect не повторяет попытки сам. Переподключение запускается только при
// обрыве транспорта в состоянии Active и только если ShouldReconnect
// разрешает (рынок открыт). Одновременно работает не больше одного цикла
// переподключения. Close - намеренное закрытие без переподключения.
type Connection struct {
	transport Transport
	config    Config
	limiter   *ratelimit.RateLimiter
	logger    *utils.Logger
	sleep     SleepFunc

	state        int32 // atomic State
	reconnecting int32 // atomic флаг цикла переподключения

	// lifecycleMu сериализует переход в Active с обработкой обрыва
	lifecycleMu sync.Mutex
	dropped     bool
	session     chan struct{}

	authMu sync.Mutex
	authCh chan authResult

	subsMu        sync.RWMutex
	subscriptions map[string]models.Instrument

	callbackMu      sync.RWMutex
	onTick          func(models.Tick)
	onSessionLost   func(error)
	shouldReconnect func() bool
}

// NewConnection создаёт соединение поверх транспорта
func NewConnection(transport Transport, config Config, logger *utils.Logger) *Connection {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 10 * time.Second
	}
	if config.SubscribeRate <= 0 {
		config.SubscribeRate = 20
	}
	if len(config.ReconnectDelays) == 0 {
		config.ReconnectDelays = DefaultReconnectDelays
	}
	if logger == nil {
		logger = utils.L()
	}

	c := &Connection{
		transport:     transport,
		config:        config,
		limiter:       ratelimit.NewRateLimiter(config.SubscribeRate, config.SubscribeRate),
		logger:        logger.WithComponent("feed"),
		sleep:         defaultSleep,
		subscriptions: make(map[string]models.Instrument),
	}

	transport.OnMessage(c.handleMessage)
	transport.OnDisconnect(c.handleDisconnect)

	return c
}

// SetSleepFunc подменяет ожидание между попытками (для тестов)
func (c *Connection) SetSleepFunc(fn SleepFunc) {
	c.sleep = fn
}

// SetOnTick устанавливает обработчик котировок
func (c *Connection) SetOnTick(fn func(models.Tick)) {
	c.callbackMu.Lock()
	c.onTick = fn
	c.callbackMu.Unlock()
}

// SetOnSessionLost устанавливает обработчик окончательной потери сессии
func (c *Connection) SetOnSessionLost(fn func(error)) {
	c.callbackMu.Lock()
	c.onSessionLost = fn
	c.callbackMu.Unlock()
}

// SetShouldReconnect устанавливает условие переподключения (рынок открыт)
func (c *Connection) SetShouldReconnect(fn func() bool) {
	c.callbackMu.Lock()
	c.shouldReconnect = fn
	c.callbackMu.Unlock()
}

// State возвращает текущее состояние
func (c *Connection) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// IsActive - соединение аутентифицировано
func (c *Connection) IsActive() bool {
	return c.State() == StateActive
}

func (c *Connection) setState(s State) {
	old := State(atomic.SwapInt32(&c.state, int32(s)))
	if old != s {
		c.logger.Debug("feed state changed",
			utils.String("from", old.String()),
			utils.State(s.String()),
		)
	}
}

// Connect открывает транспорт и проходит аутентификацию.
// Active только после явного {"type":"auth","status":"success"}.
func (c *Connection) Connect(ctx context.Context) error {
	switch c.State() {
	case StateActive:
		return nil
	case StateConnecting, StateAuthenticating, StateReconnecting:
		return ErrConnectInProgress
	}

	c.lifecycleMu.Lock()
	if c.session == nil {
		c.session = make(chan struct{})
	}
	c.lifecycleMu.Unlock()

	if err := c.dialAndAuth(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.logger.Info("feed connection active", utils.String("url", c.config.URL))
	return nil
}

func (c *Connection) dialAndAuth(ctx context.Context) error {
	c.lifecycleMu.Lock()
	c.dropped = false
	c.lifecycleMu.Unlock()

	authCh := make(chan authResult, 1)
	c.authMu.Lock()
	c.authCh = authCh
	c.authMu.Unlock()

	c.setState(StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	err := c.transport.Connect(connectCtx, c.config.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.config.URL, err)
	}

	c.setState(StateAuthenticating)

	data, err := Encode(AuthRequest{Action: ActionAuthenticate, APIKey: c.config.APIKey})
	if err != nil {
		_ = c.transport.Close()
		return err
	}
	if err := c.transport.Send(data); err != nil {
		_ = c.transport.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	timer := time.NewTimer(c.config.AuthTimeout)
	defer timer.Stop()

	select {
	case res := <-authCh:
		if !res.ok {
			_ = c.transport.Close()
			return fmt.Errorf("%w: %s", ErrAuthFailed, res.message)
		}
	case <-timer.C:
		_ = c.transport.Close()
		return ErrAuthTimeout
	case <-ctx.Done():
		_ = c.transport.Close()
		return ctx.Err()
	}

	c.lifecycleMu.Lock()
	switch {
	case c.dropped:
		c.lifecycleMu.Unlock()
		return fmt.Errorf("%w: connection dropped during authentication", ErrAuthFailed)
	case c.session == nil:
		// Close пришёл во время аутентификации
		c.lifecycleMu.Unlock()
		_ = c.transport.Close()
		return ErrNotConnected
	}
	c.setState(StateActive)
	atomic.StoreInt32(&c.reconnecting, 0)
	c.lifecycleMu.Unlock()
	return nil
}

// handleMessage разбирает входящее сообщение в контексте readPump транспорта
func (c *Connection) handleMessage(data []byte) {
	msg, err := ParseMessage(data, time.Now())
	if err != nil {
		c.logger.Debug("ignored feed message", utils.Err(err))
		return
	}

	switch msg.Kind {
	case KindTick:
		c.callbackMu.RLock()
		onTick := c.onTick
		c.callbackMu.RUnlock()
		if onTick != nil {
			onTick(msg.Tick)
		}

	case KindAuth:
		c.deliverAuth(authResult{ok: msg.AuthSucceeded(), message: msg.Message})

	case KindError:
		c.logger.Warn("feed error message", utils.String("message", msg.Message))
		if c.State() == StateAuthenticating {
			c.deliverAuth(authResult{ok: false, message: msg.Message})
		}

	case KindSubscription:
		c.logger.Debug("subscription ack",
			utils.String("type", msg.Type),
			utils.String("status", msg.Status),
		)
	}
}

func (c *Connection) deliverAuth(res authResult) {
	c.authMu.Lock()
	ch := c.authCh
	c.authMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// handleDisconnect вызывается транспортом при обрыве соединения
func (c *Connection) handleDisconnect(err error) {
	c.lifecycleMu.Lock()
	if c.State() != StateActive {
		c.dropped = true
		c.lifecycleMu.Unlock()
		c.deliverAuth(authResult{ok: false, message: "connection closed"})
		return
	}

	session := c.session
	if !c.canReconnect() {
		c.setState(StateDisconnected)
		c.lifecycleMu.Unlock()
		c.logger.Info("feed dropped outside trading hours, not reconnecting", utils.Err(err))
		return
	}

	if !atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		c.lifecycleMu.Unlock()
		return
	}
	c.setState(StateReconnecting)
	c.lifecycleMu.Unlock()

	c.logger.Warn("feed connection lost, reconnecting", utils.Err(err))
	go c.reconnectLoop(session)
}

func (c *Connection) canReconnect() bool {
	c.callbackMu.RLock()
	fn := c.shouldReconnect
	c.callbackMu.RUnlock()
	return fn == nil || fn()
}

// reconnectLoop проходит расписание задержек. Успех завершает цикл (следующий
// обрыв начнёт расписание заново), шесть неудач - OnSessionLost.
func (c *Connection) reconnectLoop(session chan struct{}) {
	defer atomic.StoreInt32(&c.reconnecting, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-session:
			cancel()
		case <-ctx.Done():
		}
	}()

	delays := c.config.ReconnectDelays
	for i, delay := range delays {
		c.logger.Info("reconnect scheduled",
			utils.Attempt(i+1),
			utils.Duration("delay", delay),
		)

		if err := c.sleep(ctx, delay); err != nil || ctx.Err() != nil {
			return
		}
		if !c.canReconnect() {
			c.setState(StateDisconnected)
			c.logger.Info("market closed during reconnect, giving up")
			return
		}

		err := c.dialAndAuth(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			c.logger.Info("feed reconnected", utils.Attempt(i+1))
			if err := c.resubscribe(ctx); err != nil {
				c.logger.Warn("resubscribe after reconnect failed", utils.Err(err))
			}
			return
		}

		c.logger.Warn("reconnect attempt failed", utils.Attempt(i+1), utils.Err(err))
		c.setState(StateReconnecting)
	}

	c.setState(StateDisconnected)
	c.logger.Error("feed reconnect attempts exhausted", utils.Int("attempts", len(delays)))

	c.callbackMu.RLock()
	onSessionLost := c.onSessionLost
	c.callbackMu.RUnlock()
	if onSessionLost != nil {
		onSessionLost(ErrReconnectExhausted)
	}
}

// Subscribe подписывает на все instruments (полная переотправка) и отписывает
// от выпавших с прошлого вызова. Возвращает ключи текущей подписки.
func (c *Connection) Subscribe(ctx context.Context, instruments []models.Instrument) ([]string, error) {
	if !c.IsActive() {
		return nil, ErrNotConnected
	}

	desired := make(map[string]models.Instrument, len(instruments))
	for _, inst := range instruments {
		if inst.Symbol == "" {
			continue
		}
		if inst.Exchange == "" {
			inst.Exchange = models.DefaultExchange
		}
		desired[inst.Key()] = inst
	}

	c.subsMu.Lock()
	previous := c.subscriptions
	c.subscriptions = desired
	c.subsMu.Unlock()

	for key, inst := range previous {
		if _, keep := desired[key]; keep {
			continue
		}
		if err := c.send(ctx, NewUnsubscribe(inst)); err != nil {
			return nil, fmt.Errorf("unsubscribe %s: %w", key, err)
		}
	}

	keys := sortedKeys(desired)
	for _, key := range keys {
		if err := c.send(ctx, NewSubscribe(desired[key])); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", key, err)
		}
	}

	c.logger.Debug("subscriptions issued", utils.Int("count", len(keys)))
	return keys, nil
}

func (c *Connection) resubscribe(ctx context.Context) error {
	c.subsMu.RLock()
	subs := make(map[string]models.Instrument, len(c.subscriptions))
	for k, v := range c.subscriptions {
		subs[k] = v
	}
	c.subsMu.RUnlock()

	for _, key := range sortedKeys(subs) {
		if err := c.send(ctx, NewSubscribe(subs[key])); err != nil {
			return err
		}
	}
	if len(subs) > 0 {
		c.logger.Info("resubscribed", utils.Int("count", len(subs)))
	}
	return nil
}

func (c *Connection) send(ctx context.Context, req SubscriptionRequest) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := Encode(req)
	if err != nil {
		return err
	}
	return c.transport.Send(data)
}

// Subscriptions возвращает отсортированные ключи текущей подписки
func (c *Connection) Subscriptions() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return sortedKeys(c.subscriptions)
}

// Close - намеренное закрытие: транспорт закрыт, подписки очищены,
// цикл переподключения остановлен
func (c *Connection) Close() error {
	c.lifecycleMu.Lock()
	if c.session != nil {
		close(c.session)
		c.session = nil
	}
	c.setState(StateDisconnected)
	c.lifecycleMu.Unlock()

	c.subsMu.Lock()
	c.subscriptions = make(map[string]models.Instrument)
	c.subsMu.Unlock()

	err := c.transport.Close()
	c.logger.Info("feed connection closed")
	return err
}

func sortedKeys(m map[string]models.Instrument) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
