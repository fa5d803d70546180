package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/config"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewPublishCmd pushes an authored quiz definition into the document store so
// devices can download it by code.
func NewPublishCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <definition.json>",
		Short: "Publish a quiz definition to the document store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd.Context(), *configPath, args[0])
		},
	}
}

func runPublish(ctx context.Context, configPath, defPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	raw, err := os.ReadFile(defPath)
	if err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	quiz, err := postgres.NewDocumentStore(pool).PublishQuiz(ctx, raw)
	if err != nil {
		return err
	}
	fmt.Printf("published %q as %s (download code %s)\n", quiz.Title, quiz.ID, quiz.PublicCode)
	return nil
}
