package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	cfg := DefaultConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func testEvent(et shared.EventType) shared.Event {
	return shared.NewGenericEvent(et, "card-1", map[string]interface{}{
		"student_id": "3b8f0c2e-8a1d-4f5e-9c3a-7d2b6e4a1f09",
		"card_id":    "card-1",
	})
}

func TestPublishReachesSubscribedHandler(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var got []shared.Event
	handler := shared.EventHandlerFunc(func(_ context.Context, e shared.Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, bus.Subscribe(shared.EventCardCompleted, handler))

	require.NoError(t, bus.Publish(testEvent(shared.EventCardCompleted)))
	require.NoError(t, bus.Publish(testEvent(shared.EventCardFailed)), "no handler is not an error")

	require.Len(t, got, 1, "the handler only sees its subscribed type")
	assert.Equal(t, shared.EventCardCompleted, got[0].EventType())
	assert.Equal(t, "card-1", got[0].AggregateID())
}

func TestSubscribeAllSeesEveryEvent(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var count atomic.Int32
	all := shared.EventHandlerFunc(func(context.Context, shared.Event) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, bus.SubscribeAll(all))

	require.NoError(t, bus.Publish(testEvent(shared.EventTokensGranted)))
	require.NoError(t, bus.Publish(testEvent(shared.EventTokensRefunded)))
	require.NoError(t, bus.Publish(testEvent(shared.EventSweepCompleted)))

	assert.Equal(t, int32(3), count.Load())
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	failing := shared.EventHandlerFunc(func(context.Context, shared.Event) error {
		return errors.New("boom")
	})
	var reached atomic.Bool
	following := shared.EventHandlerFunc(func(context.Context, shared.Event) error {
		reached.Store(true)
		return nil
	})
	require.NoError(t, bus.Subscribe(shared.EventCardFailed, failing))
	require.NoError(t, bus.Subscribe(shared.EventCardFailed, following))

	require.NoError(t, bus.Publish(testEvent(shared.EventCardFailed)))
	assert.True(t, reached.Load())
}

func TestAsyncPublishDrainsOnClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg)

	const n = 20
	var handled atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	handler := shared.EventHandlerFunc(func(context.Context, shared.Event) error {
		handled.Add(1)
		wg.Done()
		return nil
	})
	require.NoError(t, bus.Subscribe(shared.EventTokensReserved, handler))

	for i := 0; i < n; i++ {
		require.NoError(t, bus.Publish(testEvent(shared.EventTokensReserved)))
	}
	wg.Wait()
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(n), handled.Load())
}

func TestClosedBusRejectsPublishAndSubscribe(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "double close is a no-op")

	err := bus.Publish(testEvent(shared.EventCardRequested))
	assert.ErrorIs(t, err, ErrEventBusClosed)

	noop := shared.EventHandlerFunc(func(context.Context, shared.Event) error { return nil })
	assert.ErrorIs(t, bus.Subscribe(shared.EventCardRequested, noop), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(noop), ErrEventBusClosed)
}

func TestNilHandlerRejected(t *testing.T) {
	bus := syncBus()
	defer bus.Close()
	assert.Error(t, bus.Subscribe(shared.EventCardRequested, nil))
	assert.Error(t, bus.SubscribeAll(nil))
}

func TestMetricsSnapshot(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	ok := shared.EventHandlerFunc(func(context.Context, shared.Event) error { return nil })
	bad := shared.EventHandlerFunc(func(context.Context, shared.Event) error { return errors.New("boom") })
	require.NoError(t, bus.Subscribe(shared.EventCardCompleted, ok))
	require.NoError(t, bus.Subscribe(shared.EventCardCompleted, bad))

	require.NoError(t, bus.Publish(testEvent(shared.EventCardCompleted)))

	snap := bus.Metrics().Snapshot()
	require.Contains(t, snap, string(shared.EventCardCompleted))
	assert.Equal(t, int64(1), snap[string(shared.EventCardCompleted)]["published"])
	assert.Equal(t, int64(1), snap[string(shared.EventCardCompleted)]["succeeded"])
	assert.Equal(t, int64(1), snap[string(shared.EventCardCompleted)]["failed"])
}
