package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// handlerFunc - TickHandler из функции
type handlerFunc func(ctx context.Context, tick models.Tick) error

func (f handlerFunc) OnTick(ctx context.Context, tick models.Tick) error { return f(ctx, tick) }

func TestDispatcher_PerKeyOrdering(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string][]float64)

	handler := handlerFunc(func(ctx context.Context, tick models.Tick) error {
		mu.Lock()
		seen[tick.Key()] = append(seen[tick.Key()], tick.LTP)
		mu.Unlock()
		return nil
	})

	d := NewDispatcher(handler, DispatcherConfig{Shards: 4, ShardBuffer: 1024}, utils.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	symbols := []string{"INFY", "TCS", "RELIANCE"}
	const perSymbol = 200
	for i := 1; i <= perSymbol; i++ {
		for _, sym := range symbols {
			require.True(t, d.Enqueue(models.Tick{Symbol: sym, Exchange: "NSE", LTP: float64(i)}))
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, sym := range symbols {
			if len(seen["NSE:"+sym]) != perSymbol {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	d.Wait()

	for _, sym := range symbols {
		got := seen["NSE:"+sym]
		for i, ltp := range got {
			assert.Equal(t, float64(i+1), ltp, "%s out of order at %d", sym, i)
		}
	}
}

func TestDispatcher_SameKeySameShard(t *testing.T) {
	d := NewDispatcher(handlerFunc(func(context.Context, models.Tick) error { return nil }),
		DispatcherConfig{Shards: 16}, utils.NewNopLogger())

	first := d.shardFor("NSE:INFY")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.shardFor("NSE:INFY"))
	}
	assert.Less(t, first, 16)
}

func TestDispatcher_OverflowDropsTick(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	handler := handlerFunc(func(ctx context.Context, tick models.Tick) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	core, logs := observer.New(zapcore.WarnLevel)
	d := NewDispatcher(handler, DispatcherConfig{Shards: 1, ShardBuffer: 2}, utils.NewLogger(zap.New(core)))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		close(release)
		cancel()
		d.Wait()
	}()
	d.Start(ctx)

	before := testutil.ToFloat64(BufferOverflows.WithLabelValues("tick_shard"))

	tk := models.Tick{Symbol: "INFY", Exchange: "NSE", LTP: 1}
	require.True(t, d.Enqueue(tk))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker did not pick up the first tick")
	}

	// воркер занят, буфер на 2 тика
	assert.True(t, d.Enqueue(tk))
	assert.True(t, d.Enqueue(tk))
	assert.False(t, d.Enqueue(tk))
	assert.Equal(t, 2, d.QueueLen())

	assert.Equal(t, before+1, testutil.ToFloat64(BufferOverflows.WithLabelValues("tick_shard")))

	dropped := logs.FilterMessage("tick shard full, tick dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "NSE:INFY", dropped[0].ContextMap()["key"])
}

func TestDispatcher_EvalTimeout(t *testing.T) {
	deadlines := make(chan time.Duration, 1)
	handler := handlerFunc(func(ctx context.Context, tick models.Tick) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadlines <- -1
			return nil
		}
		deadlines <- time.Until(deadline)
		return nil
	})

	d := NewDispatcher(handler, DispatcherConfig{Shards: 1, EvalTimeout: 200 * time.Millisecond}, utils.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		d.Wait()
	}()
	d.Start(ctx)

	require.True(t, d.Enqueue(models.Tick{Symbol: "INFY", Exchange: "NSE", LTP: 1}))

	select {
	case left := <-deadlines:
		assert.Greater(t, left, time.Duration(0))
		assert.LessOrEqual(t, left, 200*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("tick not handled")
	}
}

func TestDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(handlerFunc(func(context.Context, models.Tick) error { return nil }),
		DispatcherConfig{}, nil)

	defaults := DefaultDispatcherConfig()
	assert.Len(t, d.shards, defaults.Shards)
	assert.Equal(t, defaults.ShardBuffer, cap(d.shards[0]))
	assert.Equal(t, defaults.EvalTimeout, d.config.EvalTimeout)
}

func BenchmarkDispatcher_Enqueue(b *testing.B) {
	d := NewDispatcher(handlerFunc(func(context.Context, models.Tick) error { return nil }),
		DispatcherConfig{Shards: 8, ShardBuffer: 4096}, utils.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	defer func() {
		cancel()
		d.Wait()
	}()

	tk := models.Tick{Symbol: "INFY", Exchange: "NSE", LTP: 1600}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Enqueue(tk)
	}
}
