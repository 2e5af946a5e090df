package cli

import (
	"fmt"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/logger"

	"github.com/spf13/cobra"
)

// NewSeedCmd stores a quiz set from YAML and opens a game for it.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a game from a YAML quiz set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Quiz.SeedFile
			}
			if file == "" {
				return fmt.Errorf("no quiz file given; pass --file or set quiz.seed_file")
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
			if err != nil {
				return err
			}
			defer log.Sync()

			qs, err := config.LoadQuizSet(file)
			if err != nil {
				return err
			}
			b, err := buildBackend(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.close()
			if !b.durable {
				log.Warnw("no postgres configured, the seeded game lives only as long as this command")
			}

			game, host, err := app.NewGameService(b.deps).HostGame(cmd.Context(), qs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "game:       %s\nhost token: %s\njoin url:   %s/game/%s\n",
				game.ID, host.Token, cfg.Server.PublicURL, game.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "quiz set YAML file (default quiz.seed_file)")
	return cmd
}
