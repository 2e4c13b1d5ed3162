package telegram_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/quizbot/internal/telegram"
)

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	d := telegram.NewDispatcher(2)

	var running, peak atomic.Int32
	for key := int64(0); key < 8; key++ {
		d.Dispatch(context.Background(), key, func(context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		})
	}
	d.Stop()

	assert.Equal(t, int32(2), peak.Load())
}

func TestDispatcher_SerializesOneKey(t *testing.T) {
	d := telegram.NewDispatcher(8)

	var (
		mu    sync.Mutex
		order []int
		busy  atomic.Bool
	)
	for i := 0; i < 20; i++ {
		d.Dispatch(context.Background(), 1, func(context.Context) {
			assert.False(t, busy.Swap(true), "jobs for one key overlapped")
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			busy.Store(false)
		})
	}
	d.Stop()

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestDispatcher_RecoversFromPanics(t *testing.T) {
	d := telegram.NewDispatcher(1)

	var ran atomic.Bool
	d.Dispatch(context.Background(), 1, func(context.Context) { panic("boom") })
	d.Dispatch(context.Background(), 1, func(context.Context) { ran.Store(true) })
	d.Stop()

	assert.True(t, ran.Load(), "jobs after a panic still run")
}
