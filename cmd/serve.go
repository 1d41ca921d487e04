package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"jobmate/admission-service/internal/admission"
	"jobmate/admission-service/internal/config"
	"jobmate/admission-service/internal/db"
	"jobmate/admission-service/internal/grpcserver"
	"jobmate/admission-service/internal/logging"
	"jobmate/admission-service/internal/metrics"
	"jobmate/admission-service/internal/notify"
	"jobmate/admission-service/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC APIs and the cascade sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(envFiles...)
			if err != nil {
				return err
			}
			for key, flag := range map[string]string{
				"HTTP_PORT":  "http-port",
				"GRPC_PORT":  "grpc-port",
				"SWEEP_SPEC": "sweep-spec",
			} {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}

	cmd.Flags().String("http-port", "", "HTTP listen port (overrides HTTP_PORT)")
	cmd.Flags().String("grpc-port", "", "gRPC listen port (overrides GRPC_PORT)")
	cmd.Flags().String("sweep-spec", "", "cron spec for the cascade sweeper (overrides SWEEP_SPEC)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store ────────────────────────────────────────────────────────────────
	store, pool, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if migrate && pool != nil {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	// ── Notifications ────────────────────────────────────────────────────────
	notifier, redisNotifier, closeNotifier, err := openNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// ── Engine ───────────────────────────────────────────────────────────────
	reg := metrics.NewRegistry()
	svc := admission.NewService(store, notifier,
		admission.WithRecorder(metrics.NewRecorder(reg)),
		admission.WithRetryPolicy(retryPolicy(cfg)),
	)

	// ── HTTP ─────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(cfg, redisNotifier))
	mux.Handle("/metrics", metrics.Handler(reg))
	admission.NewHandler(svc).RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      logging.Middleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── gRPC ─────────────────────────────────────────────────────────────────
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor))
	grpcserver.Register(grpcSrv, grpcserver.NewServer(svc))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	// ── Sweeper ──────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.SweepSpec != "" {
		sched = scheduler.New(svc, cfg.SweepSpec)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listening", "addr", httpSrv.Addr, "version", version, "store", cfg.StoreDriver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("grpc listening", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		healthSrv.Shutdown()
		if sched != nil {
			sched.Stop(shutdownCtx)
		}

		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("stopped")
	return err
}

type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Store    string `json:"store"`
	Notifier string `json:"notifier"`
}

// healthHandler reports liveness. The notifier field is the breaker state
// when notifications go to Redis.
func healthHandler(cfg *config.Config, rn *notify.RedisNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		notifier := "log"
		if rn != nil {
			notifier = "redis:" + rn.State()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:   "ok",
			Service:  "admission-service",
			Version:  version,
			Store:    cfg.StoreDriver,
			Notifier: notifier,
		})
	}
}
