package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/circles/internal/adapters/auth"
	router "github.com/dkeye/circles/internal/adapters/http"
	"github.com/dkeye/circles/internal/app"
	"github.com/dkeye/circles/internal/app/membership"
	"github.com/dkeye/circles/internal/app/notify"
	"github.com/dkeye/circles/internal/app/orch"
	"github.com/dkeye/circles/internal/config"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/observability"
	"github.com/dkeye/circles/internal/pubsub"
	"github.com/dkeye/circles/internal/storage/bolt"
	"github.com/dkeye/circles/internal/storage/postgres"
)

type store interface {
	core.CircleStore
	core.MessageLedger
	core.NotificationStore
	io.Closer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("CONFIG_ENV") == "" || os.Getenv("CONFIG_ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("close storage")
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promReg)

	policy, err := app.ParsePolicy(cfg.Chat.Backpressure)
	if err != nil {
		return err
	}
	reg := app.NewRegistry()
	rt := app.NewRouter(reg, policy, metrics)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Fanout.Driver == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Fanout.RedisAddr})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		fan := pubsub.NewRedisFanout(client, cfg.Fanout.RedisChannel, rt)
		rt.UseFanout(fan)
		g.Go(func() error { return fan.Run(gctx) })
		log.Info().Str("addr", cfg.Fanout.RedisAddr).Str("channel", cfg.Fanout.RedisChannel).Msg("redis fanout enabled")
	}

	o := &orch.Orchestrator{
		Registry: reg,
		Router:   rt,
		Members:  st,
		Ledger:   st,
		Limiter:  app.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
		Metrics:  metrics,
	}
	bridge := notify.NewBridge(gctx, st, st, rt, metrics, cfg.Chat.CircleNameTTL)

	var evictor membership.Evictor
	if cfg.Chat.EvictRemovedMembers {
		evictor = o
	}
	members := membership.NewService(st, bridge, evictor)

	resolver := auth.NewJWTResolver(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)

	r := router.SetupRouter(gctx, cfg, router.Deps{
		Orch:          o,
		Membership:    members,
		Circles:       st,
		Ledger:        st,
		Notifications: st,
		Auth:          resolver,
		Metrics:       metrics,
		Gatherer:      promReg,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Circles server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(cfg config.StorageConfig) (store, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.Migrate {
			if err := postgres.RunMigrations(cfg.PostgresDSN); err != nil {
				return nil, err
			}
		}
		st, err := postgres.NewStore(cfg.PostgresDSN, postgres.DefaultConfig())
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "postgres").Msg("storage ready")
		return st, nil
	default:
		st, err := bolt.NewStorage(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "bbolt").Str("path", cfg.BoltPath).Msg("storage ready")
		return st, nil
	}
}
