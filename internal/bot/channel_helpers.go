package bot

import "riskwatch/internal/models"

// tryEnqueueTick отправляет тик в канал шарда с метриками переполнения.
// Возвращает true, если тик поставлен в очередь.
func tryEnqueueTick(ch chan models.Tick, tick models.Tick) bool {
	if ch == nil {
		return false
	}

	select {
	case ch <- tick:
		return true
	default:
		RecordBufferOverflow("tick_shard")
		RecordBufferBacklog("tick_shard", cap(ch), len(ch))
		return false
	}
}
