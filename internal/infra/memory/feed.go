package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// subscriber buffers matching events without bound so publishers never
// block on a slow reader and no event is dropped. A pump goroutine moves
// the queue onto the delivery channel in order.
type subscriber struct {
	filter domain.Filter
	out    chan domain.ChangeEvent
	wake   chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	queue []domain.ChangeEvent
}

// Subscribe implements app.Feed. Events arrive in commit order until the
// returned cancel function is called or ctx is done.
func (b *Backend) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.ChangeEvent, func(), error) {
	sub := &subscriber{
		filter: filter,
		out:    make(chan domain.ChangeEvent),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.subMu.Lock()
	b.subs[sub] = struct{}{}
	b.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, sub)
			b.subMu.Unlock()
			close(sub.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	go sub.pump()
	return sub.out, cancel, nil
}

// Publish hands an externally produced event to matching subscribers.
func (b *Backend) Publish(_ context.Context, ev domain.ChangeEvent) error {
	b.publish(ev)
	return nil
}

func (b *Backend) publish(ev domain.ChangeEvent) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for sub := range b.subs {
		if sub.filter.Matches(ev) {
			sub.push(ev)
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Backend) Subscribers() int {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return len(b.subs)
}

func (s *subscriber) push(ev domain.ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
