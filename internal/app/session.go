package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Timing holds the fixed delays of a game round.
type Timing struct {
	// ChoiceRevealDelay is how long the question is shown before choices open.
	ChoiceRevealDelay time.Duration
	// AnswerWindow is the time over which a correct answer's score decays to 0.
	AnswerWindow time.Duration
	// RevealOnTimeout makes the host reveal once the answer window has elapsed.
	RevealOnTimeout bool
	// ReadAloudDelay is the pause before the host reads the question body.
	ReadAloudDelay time.Duration
	// QuestionRetries is how many times a failed question fetch is retried.
	QuestionRetries      int
	QuestionRetryBackoff time.Duration
	// ReactionWindow is how long a reaction stays visible.
	ReactionWindow time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ChoiceRevealDelay:    5 * time.Second,
		AnswerWindow:         20 * time.Second,
		RevealOnTimeout:      true,
		ReadAloudDelay:       time.Second,
		QuestionRetries:      3,
		QuestionRetryBackoff: time.Second,
		ReactionWindow:       5 * time.Second,
	}
}

// eventLoop serializes all state changes of a session onto one goroutine.
// Commands, timer firings and feed events are handled one at a time.
type eventLoop struct {
	events chan func()
	done   chan struct{}
}

func newEventLoop() eventLoop {
	return eventLoop{
		events: make(chan func(), 16),
		done:   make(chan struct{}),
	}
}

// call runs fn on the loop and waits for its result.
func (l *eventLoop) call(ctx context.Context, fn func() error) error {
	select {
	case <-l.done:
		return domain.ErrSessionClosed
	default:
	}
	reply := make(chan error, 1)
	select {
	case l.events <- func() { reply <- fn() }:
	case <-l.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		return domain.ErrSessionClosed
	}
}

// post hands fn to the loop without waiting for it. Used by timer callbacks.
func (l *eventLoop) post(fn func()) {
	select {
	case l.events <- fn:
	case <-l.done:
	}
}

// feedClosed is the result of Run when a subscription channel closes. The
// feed closes every channel on context cancellation, which is a clean stop.
func feedClosed(ctx context.Context, name string) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s feed closed", name)
}

// offerLatest delivers v, replacing an unread older value so slow readers
// always see the newest view.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// loadQuestions fetches the quiz set's questions, retrying a fixed number of
// times with a fixed backoff.
func loadQuestions(ctx context.Context, clock clockwork.Clock, src QuestionSource, quizSetID string, timing Timing, log *zap.SugaredLogger) ([]domain.Question, error) {
	for attempt := 0; ; attempt++ {
		questions, err := src.ListQuestions(ctx, quizSetID)
		if err == nil {
			sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
			return questions, nil
		}
		if attempt >= timing.QuestionRetries {
			return nil, fmt.Errorf("load questions of %s: %w", quizSetID, err)
		}
		log.Warnw("question fetch failed, retrying", "quizSetId", quizSetID, "attempt", attempt+1, "error", err)
		select {
		case <-clock.After(timing.QuestionRetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type timedReaction struct {
	domain.Reaction
	expires time.Time
}

// reactionWindow keeps reactions visible for a fixed time after they arrive.
// One prune task is pending at most, set for the oldest reaction.
type reactionWindow struct {
	clock clockwork.Clock
	ttl   time.Duration
	items []timedReaction
	prune *Task
}

func newReactionWindow(clock clockwork.Clock, ttl time.Duration) *reactionWindow {
	return &reactionWindow{clock: clock, ttl: ttl, prune: NewTask(clock)}
}

// add records a reaction. post must run its argument on the owning loop.
func (w *reactionWindow) add(r domain.Reaction, post func(func())) {
	w.items = append(w.items, timedReaction{Reaction: r, expires: w.clock.Now().Add(w.ttl)})
	if !w.prune.Pending() {
		w.schedule(post)
	}
}

func (w *reactionWindow) expire(post func(func())) {
	now := w.clock.Now()
	drop := 0
	for drop < len(w.items) && !w.items[drop].expires.After(now) {
		drop++
	}
	w.items = w.items[drop:]
	if len(w.items) > 0 {
		w.schedule(post)
	}
}

func (w *reactionWindow) schedule(post func(func())) {
	d := w.items[0].expires.Sub(w.clock.Now())
	w.prune.Start(d, func() {
		post(func() { w.expire(post) })
	})
}

func (w *reactionWindow) visible() []domain.Reaction {
	out := make([]domain.Reaction, len(w.items))
	for i, it := range w.items {
		out[i] = it.Reaction
	}
	return out
}

func (w *reactionWindow) stop() {
	w.prune.Cancel()
}
