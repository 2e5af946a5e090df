package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"live-quiz-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches the questions of a quiz set from a backing store.
type QuestionLoader interface {
	ListQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error)
}

// QuestionCache keeps the questions of recently played quiz sets so every
// session joining a game does not hit the store again.
type QuestionCache struct {
	source QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	rndMu sync.Mutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(source QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (c *QuestionCache) ListQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	if qs, ok := c.lookup(quizSetID); ok {
		return qs, nil
	}

	result, err, _ := c.sf.Do(quizSetID, func() (interface{}, error) {
		if qs, ok := c.lookup(quizSetID); ok {
			return qs, nil
		}
		qs, err := c.source.ListQuestions(ctx, quizSetID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[quizSetID] = cachedQuestions{
			questions: qs,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(result.([]domain.Question)), nil
}

// Invalidate drops the cached questions of a quiz set.
func (c *QuestionCache) Invalidate(quizSetID string) {
	c.mu.Lock()
	delete(c.cache, quizSetID)
	c.mu.Unlock()
}

func (c *QuestionCache) lookup(quizSetID string) ([]domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizSetID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return clone(entry.questions), true
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations of sets loaded together
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func clone(qs []domain.Question) []domain.Question {
	out := make([]domain.Question, len(qs))
	copy(out, qs)
	return out
}
