package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/config"
	"github.com/iliyamo/cinema-live-seats/internal/handler"
	"github.com/iliyamo/cinema-live-seats/internal/hold"
	"github.com/iliyamo/cinema-live-seats/internal/lock"
	"github.com/iliyamo/cinema-live-seats/internal/logger"
	"github.com/iliyamo/cinema-live-seats/internal/metrics"
	"github.com/iliyamo/cinema-live-seats/internal/middleware"
	"github.com/iliyamo/cinema-live-seats/internal/notify"
	"github.com/iliyamo/cinema-live-seats/internal/queue"
	"github.com/iliyamo/cinema-live-seats/internal/router"
	"github.com/iliyamo/cinema-live-seats/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger(cfg.Env)
	logger.Set(log)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	rdb, err := openRedis(cfg, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	bus := notify.NewBus(cfg.WSSendBuffer, log, m)

	var holdStore hold.Store = hold.NewMemoryStore()
	if cfg.HoldStore == config.HoldStoreRedis {
		holdStore = hold.NewRedisStore(rdb)
	}
	holds := hold.NewRegistry(holdStore, bus, cfg.HoldTTL, log, m)

	var locker service.ShowLocker = lock.NewLocal()
	if cfg.ShowLock == config.ShowLockRedis {
		locker = lock.NewRedis(rdb, lock.DefaultLease, log)
	}

	var events service.BookingEventPublisher
	if cfg.BookingEventsEnabled {
		events = queue.NewPublisher(cfg.RabbitURL, log)
	}
	if cfg.BookingConsumerEnabled {
		consumer := queue.NewConsumer(cfg.RabbitURL, cfg.BookingLogDir, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("booking consumer stopped", zap.Error(err))
			}
		}()
	}

	committer := service.NewReservationCommitter(service.CommitterDeps{
		Shows:        st.shows,
		Reservations: st.reservations,
		Holds:        holds,
		Bus:          bus,
		Locker:       locker,
		Events:       events,
		Metrics:      m,
		Log:          log,
	})
	grid := service.NewSeatGrid(st.shows, st.reservations, holds, log)

	var limiter echo.MiddlewareFunc
	if cfg.RateLimit.Enabled && rdb != nil {
		limiter = middleware.NewTokenBucket(cfg.RateLimit, rdb, log)
	}

	e := router.NewEcho(log, m)
	router.RegisterRoutes(e)
	router.RegisterPublic(e,
		handler.NewSeatHandler(grid, log),
		handler.NewRealtimeHandler(handler.RealtimeDeps{
			Bus:                      bus,
			Holds:                    holds,
			Shows:                    st.shows,
			ReleaseHoldsOnDisconnect: cfg.ReleaseHoldsOnDisconnect,
			Metrics:                  m,
			Log:                      log,
		}),
	)
	router.RegisterReservations(e, handler.NewReservationHandler(committer, log), cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreDriver),
			zap.String("hold_store", cfg.HoldStore),
			zap.String("show_lock", cfg.ShowLock),
			zap.Duration("hold_ttl", cfg.HoldTTL),
		)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// websockets are hijacked and outlive Shutdown; closing the bus ends them
	bus.Close()
	holds.Close()
	return nil
}

// openRedis connects when a component needs Redis.  The hold store and the
// show lock cannot run without it; the rate limiter is switched off instead.
func openRedis(cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.NeedsRedis() {
		return nil, nil
	}
	rdb, err := config.NewRedisClient(cfg.Redis)
	if err == nil {
		return rdb, nil
	}
	if cfg.HoldStore == config.HoldStoreRedis || cfg.ShowLock == config.ShowLockRedis {
		return nil, err
	}
	log.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
	return nil, nil
}
