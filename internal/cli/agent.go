package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/app"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/config"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/blob"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/memory"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/postgres"
	rediscache "github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/redis"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/sqlite"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/scheduler"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/timeguard"
	transport "github.com/Robin-Kumar-rk/Cheat-Crusher/internal/transport/http"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/pkg/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewAgentCmd builds the CLI subcommand to start the quiz agent.
func NewAgentCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Start the quiz agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), *configPath, *port)
		},
	}
}

func runAgent(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg)
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	dsn := cfg.Local.SQLiteDSN
	if dsn == "" {
		dsn = "file:cheatcrusher.db?cache=shared&mode=rwc"
	}
	local, err := sqlite.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer local.Close()

	blobDir := cfg.Local.BlobDir
	if blobDir == "" {
		blobDir = "data/quizzes"
	}
	blobs, err := blob.NewFSStore(blobDir)
	if err != nil {
		return err
	}

	var remote app.RemoteStore
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		remote = postgres.NewDocumentStore(pool)
	} else {
		mem := memory.NewRemoteStore()
		mem.PutQuiz("demo-quiz", "DEMO01", []byte(demoDefinition))
		remote = mem
		log.Warn("postgres url not configured, serving the built-in demo quiz",
			zap.String("downloadCode", "DEMO01"))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		remote = rediscache.NewDefinitionCache(remote, client, config.Duration(cfg.Redis.TTL, 5*time.Minute))
	}

	guard := timeguard.New(timeguard.StaticSettings(!cfg.Time.DisableAutoTime))

	worker := app.NewUploadWorker(local, remote, log)
	probe := scheduler.Probe(scheduler.AlwaysOnline)
	if cfg.Scheduler.ProbeAddr != "" {
		probe = scheduler.DialProbe(cfg.Scheduler.ProbeAddr)
	}
	drainEvery := cfg.Scheduler.DrainEvery
	if drainEvery == "" {
		drainEvery = "1m"
	}
	runner, err := scheduler.New(worker, probe, "@every "+drainEvery, log)
	if err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	attempts := app.NewAttemptService(remote, local, guard, runner, log)
	defer attempts.Close()
	cache := app.NewCacheService(remote, local, blobs, guard, log)
	if err := cache.Rehydrate(ctx); err != nil {
		log.Warn("cache rehydrate failed", zap.Error(err))
	}
	if err := cache.PurgeExpired(ctx); err != nil {
		log.Warn("cache purge failed", zap.Error(err))
	}
	wsHandler := transport.NewWSHandler(attempts, cache, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz agent", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down agent")
	case <-ctx.Done():
		log.Info("context canceled, shutting down agent")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// demoDefinition is served when no document store is configured; the window is
// intentionally wide open so a fresh checkout works out of the box.
const demoDefinition = `{
  "schemaVersion": 2,
  "quizId": "demo-quiz",
  "title": "Demo Quiz",
  "downloadCode": "DEMO01",
  "timerMinutes": 10,
  "latencyMinutes": 15,
  "startsAt": "2025-01-01T00:00:00Z",
  "endsAt": "2100-01-01T00:00:00Z",
  "onAppSwitch": "flag",
  "questions": [
    {
      "id": "q1",
      "type": "single",
      "text": "What is 2 + 2?",
      "options": [
        {"id": "a", "text": "3"},
        {"id": "b", "text": "4"},
        {"id": "c", "text": "5"}
      ],
      "correct": ["b"],
      "weight": 1
    },
    {
      "id": "q2",
      "type": "multi",
      "text": "Which of these are prime?",
      "options": [
        {"id": "a", "text": "2"},
        {"id": "b", "text": "4"},
        {"id": "c", "text": "5"}
      ],
      "correct": ["a", "c"],
      "weight": 2
    }
  ]
}`
