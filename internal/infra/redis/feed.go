package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"live-quiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Feed fans row change events out over Redis pub/sub so sessions on any
// instance see the writes of every other instance. An event is published
// once per filterable key on feed:{table}:{field}:{value}.
type Feed struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

func NewFeed(client *redis.Client, log *zap.SugaredLogger) *Feed {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Feed{client: client, log: log}
}

// Publish sends ev to every channel its keys select. Callers publish after
// commit and in commit order.
func (f *Feed) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	pipe := f.client.Pipeline()
	for field, value := range ev.Keys {
		pipe.Publish(ctx, channelName(ev.Table, field, value), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Table, err)
	}
	return nil
}

// Subscribe implements app.Feed. It returns once Redis confirmed the
// subscription, so no event published afterwards is missed.
func (f *Feed) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.ChangeEvent, func(), error) {
	ps := f.client.Subscribe(ctx, channelName(filter.Table, filter.Field, filter.Value))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", filter, err)
	}

	out := make(chan domain.ChangeEvent)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.log.Warnw("drop malformed change event", "channel", msg.Channel, "error", err)
					continue
				}
				if !filter.Matches(ev) {
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					cancel()
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func channelName(table, field, value string) string {
	return "feed:" + table + ":" + field + ":" + value
}
