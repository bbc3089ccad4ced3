package websocket

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBroadcastFull - очередь рассылки переполнена, сообщение отброшено
var ErrBroadcastFull = errors.New("websocket broadcast queue full")

// broadcastBufferSize - ёмкость очереди рассылки
const broadcastBufferSize = 256

// буферы для сериализации сообщений
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// Hub управляет WebSocket клиентами дашборда и рассылает им снапшоты цен.
//
// Реализует bot.Publisher: подключается к PriceStore.RunPublisher наравне с
// файловым публикатором. Последний снапшот хранится и отправляется каждому
// новому клиенту сразу после подключения.
//
// Использование:
//  1. hub := NewHub(origins, logger)
//  2. go hub.Run(ctx)
//  3. router.HandleFunc("/ws/stream", hub.ServeWS)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{} // закрывается при выходе из Run

	origins *OriginChecker
	logger  *utils.Logger

	mu sync.RWMutex

	lastMu      sync.RWMutex
	lastPrices  []byte
	lastVersion uint64

	dropped atomic.Int64
}

// NewHub создаёт Hub. allowedOrigins - список через запятую, пусто или "*" разрешает всё.
func NewHub(allowedOrigins string, logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		logger:     logger.WithComponent("ws_hub"),
	}
}

// Run - главный цикл Hub; завершается по отмене контекста или Stop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", utils.Int("clients", total))

			if last := h.lastPricesMessage(); last != nil {
				select {
				case client.send <- last:
				default:
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// fanOut рассылает сообщение; клиенты с переполненным буфером отключаются
func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}

	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("clients", total))
}

// closeAll закрывает каналы отправки всех клиентов при остановке
func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	h.logger.Info("hub stopped")
}

// Stop останавливает Run; повторный вызов безопасен
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Name - имя публикатора для логов и метрик
func (h *Hub) Name() string {
	return "websocket"
}

// Publish рассылает снапшот цен. Снапшот с версией не новее последней пропускается.
func (h *Hub) Publish(ctx context.Context, snap *models.PriceSnapshot) error {
	if snap == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.lastMu.Lock()
	if h.lastPrices != nil && snap.Version <= h.lastVersion {
		h.lastMu.Unlock()
		return nil
	}
	data, err := encode(NewPricesMessage(snap))
	if err != nil {
		h.lastMu.Unlock()
		return err
	}
	h.lastPrices = data
	h.lastVersion = snap.Version
	h.lastMu.Unlock()

	if !h.BroadcastRaw(data) {
		return ErrBroadcastFull
	}
	return nil
}

// BroadcastStatus рассылает состояние сессии
func (h *Hub) BroadcastStatus(status interface{}) {
	h.Broadcast(NewStatusMessage(status, time.Now().UTC()))
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) bool {
	data, err := encode(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", utils.Err(err))
		return false
	}
	return h.BroadcastRaw(data)
}

// BroadcastRaw ставит готовое сообщение в очередь без блокировки.
// При переполненной очереди сообщение отбрасывается.
func (h *Hub) BroadcastRaw(data []byte) bool {
	select {
	case h.broadcast <- data:
		return true
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			h.logger.Warn("broadcast queue full, message dropped", utils.Int("dropped_total", int(n)))
		}
		return false
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сколько сообщений отброшено из-за переполненной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

func (h *Hub) lastPricesMessage() []byte {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	return h.lastPrices
}

// encode сериализует сообщение через пул буферов; результат - отдельная копия
func encode(message interface{}) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		return nil, err
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
