package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type namedEvent string

func (e namedEvent) Type() string { return string(e) }

func TestEventQueueProcessesInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	eq := NewEventQueue("s1", 16, func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type())
		return nil
	}, zaptest.NewLogger(t))
	defer eq.Close()

	require.NoError(t, eq.Enqueue(namedEvent("a")))
	require.NoError(t, eq.Enqueue(namedEvent("b")))
	require.NoError(t, eq.EnqueueSync(namedEvent("c"), time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)

	stats := eq.Stats()
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(3), stats.ProcessedEvents)
	assert.Equal(t, 16, stats.QueueCapacity)
}

func TestEventQueueReturnsHandlerError(t *testing.T) {
	boom := errors.New("boom")
	eq := NewEventQueue("s1", 4, func(ctx context.Context, ev Event) error {
		if ev.Type() == "fail" {
			return boom
		}
		return nil
	}, zaptest.NewLogger(t))
	defer eq.Close()

	assert.ErrorIs(t, eq.EnqueueSync(namedEvent("fail"), time.Second), boom)
	assert.NoError(t, eq.EnqueueSync(namedEvent("ok"), time.Second))
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	eq := NewEventQueue("s1", 1, func(ctx context.Context, ev Event) error {
		if ev.Type() == "block" {
			started <- struct{}{}
			<-release
		}
		return nil
	}, zaptest.NewLogger(t))
	defer eq.Close()

	require.NoError(t, eq.Enqueue(namedEvent("block")))
	<-started
	require.NoError(t, eq.Enqueue(namedEvent("pending")))
	assert.ErrorIs(t, eq.Enqueue(namedEvent("dropped")), ErrQueueFull)
	assert.ErrorIs(t, eq.EnqueueSync(namedEvent("late"), 20*time.Millisecond), ErrQueueTimeout)
	close(release)

	assert.Equal(t, int64(1), eq.Stats().DroppedEvents)
}

func TestEventQueueClosed(t *testing.T) {
	eq := NewEventQueue("s1", 4, func(ctx context.Context, ev Event) error { return nil }, zaptest.NewLogger(t))
	eq.Close()

	assert.ErrorIs(t, eq.Enqueue(namedEvent("a")), ErrQueueClosed)
	assert.ErrorIs(t, eq.EnqueueSync(namedEvent("a"), time.Second), ErrQueueClosed)
}
