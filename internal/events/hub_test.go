package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/pkg/api"
)

func TestLoopbackPublishSubscribe(t *testing.T) {
	as := assert.New(t)
	hub := events.NewLoopback()
	defer func() { _ = hub.Close() }()

	first, unsubFirst := hub.Subscribe()
	second, unsubSecond := hub.Subscribe()
	defer unsubFirst()
	defer unsubSecond()

	hub.Publish(context.Background(), &api.Event{
		Type:        api.EventExecutionStarted,
		ExecutionID: "x-1",
	})

	for _, ch := range []<-chan *api.Event{first, second} {
		select {
		case ev := <-ch:
			as.Equal(api.EventExecutionStarted, ev.Type)
			as.Equal(api.ExecutionID("x-1"), ev.ExecutionID)
			as.False(ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestLoopbackUnsubscribe(t *testing.T) {
	as := assert.New(t)
	hub := events.NewLoopback()
	defer func() { _ = hub.Close() }()

	ch, unsub := hub.Subscribe()
	unsub()

	// Channel is closed; the hub no longer delivers to it
	_, open := <-ch
	as.False(open)

	hub.Publish(context.Background(), &api.Event{
		Type: api.EventExecutionStep,
	})

	// Unsubscribing twice is harmless
	unsub()
}

func TestLoopbackSlowSubscriber(t *testing.T) {
	as := assert.New(t)
	hub := events.NewLoopback()
	defer func() { _ = hub.Close() }()

	ch, unsub := hub.Subscribe()
	defer unsub()

	// Saturate the buffer; extra events drop instead of blocking
	for i := 0; i < 100; i++ {
		hub.Publish(context.Background(), &api.Event{
			Type: api.EventExecutionStep,
		})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			as.Positive(received)
			as.Less(received, 100)
			return
		}
	}
}

func TestLoopbackClose(t *testing.T) {
	as := assert.New(t)
	hub := events.NewLoopback()

	ch, _ := hub.Subscribe()
	require.NoError(t, hub.Close())

	_, open := <-ch
	as.False(open)

	// Publishing and subscribing after close are safe no-ops
	hub.Publish(context.Background(), &api.Event{
		Type: api.EventExecutionCompleted,
	})
	dead, unsub := hub.Subscribe()
	_, open = <-dead
	as.False(open)
	unsub()

	as.NoError(hub.Close())
}

func TestRedisHubRoundTrip(t *testing.T) {
	as := assert.New(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	hub := events.NewRedisHub(client, "loom-test")
	defer func() { _ = hub.Close() }()

	ch, unsub := hub.Subscribe()
	defer unsub()

	// Subscription setup races the first publish; retry until delivery
	deadline := time.After(time.Second)
	for {
		hub.Publish(context.Background(), &api.Event{
			Type:        api.EventExecutionStarted,
			ExecutionID: "x-9",
		})
		select {
		case ev := <-ch:
			as.Equal(api.EventExecutionStarted, ev.Type)
			as.Equal(api.ExecutionID("x-9"), ev.ExecutionID)
			as.False(ev.Timestamp.IsZero())
			return
		case <-deadline:
			t.Fatal("event never arrived over pub/sub")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
