package bot

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// DispatcherConfig - параметры диспетчера тиков
type DispatcherConfig struct {
	Shards      int           // количество шардов (по одному воркеру на шард)
	ShardBuffer int           // ёмкость канала шарда
	EvalTimeout time.Duration // таймаут обработки одного тика
}

// DefaultDispatcherConfig возвращает конфигурацию по умолчанию
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Shards:      8,
		ShardBuffer: 256,
		EvalTimeout: 5 * time.Second,
	}
}

// Dispatcher - развязка потока котировок и оценки риска.
//
// Тики раскладываются по шардам по хешу ключа "EXCH:SYM": один ключ всегда
// попадает в один шард, поэтому тики одного инструмента обрабатываются
// последовательно в порядке поступления. Переполненный шард отбрасывает
// тик: в PriceStore уже лежит последняя цена, следующий тик её переоценит.
//
// Поток данных:
// WebSocket → Enqueue (hash by key) → shard[N] → worker → TickHandler.OnTick
type Dispatcher struct {
	handler TickHandler
	config  DispatcherConfig
	logger  *utils.Logger

	shards []chan models.Tick
	wg     sync.WaitGroup

	startOnce sync.Once
}

// NewDispatcher создаёт диспетчер; воркеры стартуют в Start
func NewDispatcher(handler TickHandler, config DispatcherConfig, logger *utils.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.Shards <= 0 {
		config.Shards = defaults.Shards
	}
	if config.ShardBuffer <= 0 {
		config.ShardBuffer = defaults.ShardBuffer
	}
	if config.EvalTimeout <= 0 {
		config.EvalTimeout = defaults.EvalTimeout
	}
	if logger == nil {
		logger = utils.L()
	}

	d := &Dispatcher{
		handler: handler,
		config:  config,
		logger:  logger.WithComponent("tick_dispatcher"),
		shards:  make([]chan models.Tick, config.Shards),
	}
	for i := range d.shards {
		d.shards[i] = make(chan models.Tick, config.ShardBuffer)
	}
	return d
}

// Start запускает по одному воркеру на шард. Воркеры завершаются по ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := range d.shards {
			d.wg.Add(1)
			go d.worker(ctx, i)
		}
	})
}

// Wait ждёт завершения воркеров после отмены контекста
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue ставит тик в очередь шарда без блокировки.
// Возвращает false, если шард переполнен и тик отброшен.
func (d *Dispatcher) Enqueue(tick models.Tick) bool {
	key := tick.Key()
	if tryEnqueueTick(d.shards[d.shardFor(key)], tick) {
		return true
	}
	d.logger.Warn("tick shard full, tick dropped",
		utils.InstrumentKey(key),
		utils.Price(tick.LTP))
	return false
}

// shardFor - индекс шарда для ключа (FNV-1a)
func (d *Dispatcher) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// QueueLen - суммарное число тиков в очередях
func (d *Dispatcher) QueueLen() int {
	n := 0
	for _, ch := range d.shards {
		n += len(ch)
	}
	return n
}

// worker обрабатывает тики одного шарда
func (d *Dispatcher) worker(ctx context.Context, shard int) {
	defer d.wg.Done()
	log := d.logger.With(utils.String("shard", strconv.Itoa(shard)))

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-d.shards[shard]:
			tickCtx, cancel := context.WithTimeout(ctx, d.config.EvalTimeout)
			if err := d.handler.OnTick(tickCtx, tick); err != nil {
				log.Debug("tick evaluation failed",
					utils.InstrumentKey(tick.Key()),
					utils.Err(err))
			}
			cancel()
		}
	}
}
