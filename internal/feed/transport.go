package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"riskwatch/pkg/utils"
)

// Transport - двунаправленный поток сообщений до сервера котировок.
//
// OnDisconnect вызывается только при потере соединения со стороны сети;
// после Close обработчик не вызывается.
type Transport interface {
	Connect(ctx context.Context, url string) error
	Send(data []byte) error
	OnMessage(fn func([]byte))
	OnDisconnect(fn func(error))
	Close() error
}

// TransportConfig - параметры WSTransport
type TransportConfig struct {
	// Таймаут TCP + websocket handshake
	ConnectTimeout time.Duration
	// Интервал ping; 0 отключает ping и таймаут чтения
	PingInterval time.Duration
	// Сколько ждать pong сверх PingInterval
	PongTimeout time.Duration
	// Таймаут записи одного сообщения
	WriteTimeout time.Duration
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		PongTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

var errTransportClosed = errors.New("transport is not connected")

// WSTransport - Transport поверх gorilla/websocket.
//
// На каждое соединение запускаются две горутины: readPump (доставка
// сообщений в OnMessage) и pingPump. Запись сериализуется writeMu,
// gorilla не допускает конкурентных писателей.
type WSTransport struct {
	config TransportConfig
	logger *utils.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex

	callbackMu   sync.RWMutex
	onMessage    func([]byte)
	onDisconnect func(error)
}

// NewWSTransport создаёт транспорт
func NewWSTransport(config TransportConfig, logger *utils.Logger) *WSTransport {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = utils.L()
	}
	return &WSTransport{
		config: config,
		logger: logger.WithComponent("feed_transport"),
	}
}

// OnMessage устанавливает обработчик входящих сообщений
func (t *WSTransport) OnMessage(fn func([]byte)) {
	t.callbackMu.Lock()
	t.onMessage = fn
	t.callbackMu.Unlock()
}

// OnDisconnect устанавливает обработчик обрыва соединения
func (t *WSTransport) OnDisconnect(fn func(error)) {
	t.callbackMu.Lock()
	t.onDisconnect = fn
	t.callbackMu.Unlock()
}

// Connect открывает новое соединение, закрывая предыдущее, если оно было
func (t *WSTransport) Connect(ctx context.Context, url string) error {
	_ = t.Close()

	dialCtx, cancel := context.WithTimeout(ctx, t.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	if t.config.PingInterval > 0 {
		readWait := t.config.PingInterval + t.config.PongTimeout
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
		go t.pingPump(conn, done)
	}
	go t.readPump(conn, done)

	return nil
}

// Send отправляет текстовое сообщение
func (t *WSTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return errTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close закрывает соединение без вызова OnDisconnect
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	return conn.Close()
}

// readPump читает сообщения до ошибки или Close
func (t *WSTransport) readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.dropped(conn, err)
			return
		}

		t.callbackMu.RLock()
		onMessage := t.onMessage
		t.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}

		select {
		case <-done:
			return
		default:
		}
	}
}

// pingPump отправляет ping для проверки живости соединения
func (t *WSTransport) pingPump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.config.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.dropped(conn, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// dropped обрабатывает обрыв соединения conn. Если conn уже закрыт через
// Close или заменён новым Connect, обрыв игнорируется.
func (t *WSTransport) dropped(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	done := t.done
	t.conn = nil
	t.done = nil
	t.mu.Unlock()

	close(done)
	conn.Close()

	t.logger.Warn("feed transport disconnected", utils.Err(err))

	t.callbackMu.RLock()
	onDisconnect := t.onDisconnect
	t.callbackMu.RUnlock()

	if onDisconnect != nil {
		onDisconnect(err)
	}
}
