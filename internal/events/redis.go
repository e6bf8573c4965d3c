package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

// RedisHub distributes lifecycle events through a Redis pub/sub channel
// so every engine replica and websocket server sees the same stream
type RedisHub struct {
	client  *redis.Client
	channel string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Hub = (*RedisHub)(nil)

// NewRedisHub creates a hub publishing on "<prefix>:events"
func NewRedisHub(client *redis.Client, prefix string) *RedisHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisHub{
		client:  client,
		channel: prefix + ":events",
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *RedisHub) Publish(ctx context.Context, ev *api.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event",
			slog.String("event_type", string(ev.Type)),
			log.Error(err))
		return
	}

	if err := h.client.Publish(ctx, h.channel, data).Err(); err != nil {
		slog.Warn("Failed to publish event",
			slog.String("event_type", string(ev.Type)),
			log.ExecutionID(ev.ExecutionID),
			log.Error(err))
	}
}

func (h *RedisHub) Subscribe() (<-chan *api.Event, func()) {
	sub := h.client.Subscribe(h.ctx, h.channel)
	out := make(chan *api.Event, subscriberBuffer)

	ctx, cancel := context.WithCancel(h.ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(out)

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var ev api.Event
				if err := json.Unmarshal(
					[]byte(msg.Payload), &ev,
				); err != nil {
					slog.Warn("Failed to decode event", log.Error(err))
					continue
				}
				select {
				case out <- &ev:
				default:
				}
			}
		}
	}()

	return out, func() {
		cancel()
		_ = sub.Close()
	}
}

func (h *RedisHub) Close() error {
	h.cancel()
	h.wg.Wait()
	return nil
}
