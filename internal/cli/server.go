package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/logger"
	transport "live-quiz-service/internal/transport/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := buildBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	service := app.NewGameService(b.deps)
	if !b.durable && cfg.Quiz.SeedFile != "" {
		seedDemoGame(ctx, service, cfg.Quiz.SeedFile, log)
	}

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(transport.NewHandler(service, b.blobs, cfg.Server.PublicURL, log)),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("starting quiz service", "port", finalPort, "durable", b.durable)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// seedDemoGame hosts the seed quiz on an in-memory backend so a fresh
// process has a game to join.
func seedDemoGame(ctx context.Context, service *app.GameService, path string, log *zap.SugaredLogger) {
	qs, err := config.LoadQuizSet(path)
	if err != nil {
		log.Warnw("skip seeding demo game", "file", path, "error", err)
		return
	}
	game, host, err := service.HostGame(ctx, qs)
	if err != nil {
		log.Warnw("seed demo game failed", "error", err)
		return
	}
	log.Infow("demo game ready", "gameId", game.ID)
	log.Debugw("demo game host", "gameId", game.ID, "hostToken", host.Token)
}
