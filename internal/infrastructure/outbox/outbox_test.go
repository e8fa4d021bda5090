package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	domoutbox "github.com/warutora/stockroom/internal/domain/outbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	received := make(chan domoutbox.Event, 1)
	bus.Subscribe("thing.happened", func(ctx context.Context, e domoutbox.Event) error {
		received <- e
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))

	select {
	case e := <-received:
		assert.Equal(t, "thing.happened", e.EventName())
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBusFansOutToAllHandlers(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		bus.Subscribe("thing.happened", func(ctx context.Context, e domoutbox.Event) error {
			wg.Done()
			return nil
		})
	}

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all handlers ran")
	}
}

func TestBusIgnoresEventsWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "nobody.cares"}))
}

func TestBusNilEvent(t *testing.T) {
	bus := NewBus(nil)
	require.NoError(t, bus.Publish(context.Background(), nil))
}
