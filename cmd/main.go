// jobmate-admission-service
//
// Admission control for job applications. A job has a fixed number of
// positions; applications move PENDING → ACCEPTED | REJECTED, at most
// availablePositions of them are ever accepted, and the acceptance that fills
// the job rejects every application still PENDING.
//
// Commands:
//   - serve:   REST API for the Gateway, gRPC API, periodic cascade sweeper
//   - migrate: apply the embedded PostgreSQL migrations
//   - sweep:   resume interrupted cascades once and exit
//
// Every committed status change is published to Redis (NOTIFY_CHANNEL) for
// the mailer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jobmate/admission-service/internal/admission"
	"jobmate/admission-service/internal/config"
	"jobmate/admission-service/internal/db"
	"jobmate/admission-service/internal/logging"
	"jobmate/admission-service/internal/notify"
	"jobmate/admission-service/internal/platform/retry"
	"jobmate/admission-service/internal/store/memory"
	"jobmate/admission-service/internal/store/postgres"
)

const version = "1.0.0"

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "admission",
	Short: "Application admission service",
	Long: `admission runs the application status engine of JobMate.

Available commands:
  serve    - Start the HTTP and gRPC APIs and the cascade sweeper
  migrate  - Apply database migrations
  sweep    - Reject PENDING applications left on full jobs, then exit`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run:   func(cmd *cobra.Command, _ []string) { cmd.Println(version) },
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── Shared wiring ────────────────────────────────────────────────────────────

// loadConfig reads the configuration, letting flags bound on v override the
// environment, and initializes logging.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	if v == nil {
		var err error
		if v, err = config.NewViper(envFiles...); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// openStore returns the configured store and a func releasing it. The pool is
// nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config) (admission.Store, *pgxpool.Pool, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil, func() {}, nil
	}

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return postgres.New(pool, cfg.LockTimeout), pool, pool.Close, nil
}

// openNotifier publishes to Redis when REDIS_URL is set and only logs
// otherwise.
func openNotifier(ctx context.Context, cfg *config.Config) (admission.Notifier, *notify.RedisNotifier, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set; notifications are only logged")
		return notify.LogNotifier{}, nil, func() {}, nil
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("redis: %w", err)
	}
	rn := notify.NewRedisNotifier(rdb, cfg.NotifyChannel, notify.DefaultBreakerSettings, clockwork.NewRealClock())
	return rn, rn, func() { closeRedis(rdb) }, nil
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		slog.Warn("redis close", "err", err)
	}
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("transient store failure, retrying", "attempt", attempt, "backoff", backoff, "err", err)
		},
	}
}
