package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches the questions of a quiz set from a backing store.
type QuestionLoader interface {
	ListQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error)
}

// QuestionCache caches quiz set questions in Redis as one JSON value per set
// and falls back to the loader on a miss:
//
//	SET quizset:{id}:questions <json> EX ttl
//
// Redis failures degrade to loading from the backing store.
type QuestionCache struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	log    *zap.SugaredLogger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader QuestionLoader, ttl time.Duration, log *zap.SugaredLogger) *QuestionCache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) ListQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	if qs, ok := c.lookup(ctx, quizSetID); ok {
		return qs, nil
	}

	result, err, _ := c.sf.Do(quizSetID, func() (interface{}, error) {
		// another caller may have filled the cache meanwhile
		if qs, ok := c.lookup(ctx, quizSetID); ok {
			return qs, nil
		}
		qs, err := c.loader.ListQuestions(ctx, quizSetID)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(qs)
		if err == nil {
			err = c.client.Set(ctx, c.key(quizSetID), payload, c.ttlWithJitter()).Err()
		}
		if err != nil {
			c.log.Warnw("cache questions", "quizSetId", quizSetID, "error", err)
		}
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops the cached questions of a quiz set.
func (c *QuestionCache) Invalidate(ctx context.Context, quizSetID string) error {
	return c.client.Del(ctx, c.key(quizSetID)).Err()
}

func (c *QuestionCache) lookup(ctx context.Context, quizSetID string) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, c.key(quizSetID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("read cached questions", "quizSetId", quizSetID, "error", err)
		}
		return nil, false
	}
	var qs []domain.Question
	if err := json.Unmarshal(raw, &qs); err != nil {
		c.log.Warnw("decode cached questions", "quizSetId", quizSetID, "error", err)
		return nil, false
	}
	return qs, true
}

func (c *QuestionCache) key(quizSetID string) string {
	return "quizset:" + quizSetID + ":questions"
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
