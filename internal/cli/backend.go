package cli

import (
	"context"
	"fmt"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/auth"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backend is the set of adapters a process runs against.
type backend struct {
	deps  app.ServiceDeps
	blobs app.Blobs
	// durable is false for the in-memory store, whose data dies with the process
	durable bool
	close   func()
}

// gameTiming maps the game section of the config onto session timings.
func gameTiming(cfg config.Config) app.Timing {
	def := app.DefaultTiming()
	g := cfg.Game
	return app.Timing{
		ChoiceRevealDelay:    config.TTLDuration(g.ChoiceRevealDelay, def.ChoiceRevealDelay),
		AnswerWindow:         config.TTLDuration(g.AnswerWindow, def.AnswerWindow),
		RevealOnTimeout:      config.BoolOr(g.RevealOnTimeout, def.RevealOnTimeout),
		ReadAloudDelay:       config.TTLDuration(g.ReadAloudDelay, def.ReadAloudDelay),
		QuestionRetries:      config.IntOr(g.QuestionRetries, def.QuestionRetries),
		QuestionRetryBackoff: config.TTLDuration(g.QuestionRetryBackoff, def.QuestionRetryBackoff),
		ReactionWindow:       config.TTLDuration(g.ReactionWindow, def.ReactionWindow),
	}
}

// buildBackend wires Postgres when a URL is configured and the in-memory
// backend otherwise. Redis, when configured, carries the question cache and
// the saved registrations, and the change feed of the Postgres store.
func buildBackend(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*backend, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warnw("redis not reachable yet", "addr", cfg.Redis.Addr, "error", err)
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	mem := memory.NewBackend().WithPublicBase(cfg.Server.PublicURL)
	b := &backend{
		deps: app.ServiceDeps{
			Identity: auth.NewIssuer(cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TTL, 24*time.Hour)),
			Log:      log,
			Timing:   gameTiming(cfg),
		},
	}

	var store interface {
		app.Store
		app.QuizAdmin
		app.Blobs
	} = mem
	b.deps.Feed = mem
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL, log); err != nil {
			closeAll()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		// without redis the feed stays in-process, which serves one instance
		var pub postgres.Publisher = mem
		if redisClient != nil {
			redisFeed := redisinfra.NewFeed(redisClient, log)
			pub, b.deps.Feed = redisFeed, redisFeed
		}
		store = postgres.NewStore(pool, pub, log).WithPublicBase(cfg.Server.PublicURL)
		b.durable = true
	}
	b.deps.Store = store
	b.deps.Admin = store
	b.blobs = store

	if redisClient != nil {
		b.deps.Questions = redisinfra.NewQuestionCache(redisClient, store, quizTTL, log)
		b.deps.Saved = redisinfra.NewSavedParticipants(redisClient, redisTTL)
	} else {
		b.deps.Questions = memory.NewQuestionCache(store, quizTTL)
		b.deps.Saved = memory.NewSavedParticipants()
	}

	b.close = closeAll
	return b, nil
}
