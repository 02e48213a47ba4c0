package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"slotforge/internal/billing"
	"slotforge/internal/config"
	"slotforge/internal/notify"
	"slotforge/internal/service/booking"
	"slotforge/internal/store/postgres"
)

// The worker sweeps pending bookings whose confirmation deadline has
// passed, rejecting them and releasing their slots. Multiple worker
// replicas are safe: each rejection is a conditional update, so only
// one replica wins per booking.
func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "slotforge-worker"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "slotforge-worker"),
	)
	slog.SetDefault(log)

	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		log.Error("database connection failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	var rdb *redis.Client
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		notifier = notify.NewRedisNotifier(rdb, cfg.NotifyChannel, log)
		defer rdb.Close()
	}

	scheduleRepo := postgres.NewScheduleRepo(db)
	bookingRepo := postgres.NewBookingRepo(db)
	bookings := booking.NewService(bookingRepo, scheduleRepo, billing.NopInvoicer{}, notifier, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("expiry worker started", slog.Duration("interval", cfg.WorkerInterval))

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	runOnce(ctx, log, bookings)
	for {
		select {
		case <-ctx.Done():
			log.Info("expiry worker stopping")
			return
		case <-ticker.C:
			runOnce(ctx, log, bookings)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, bookings *booking.Service) {
	swept, err := bookings.SweepExpiredPending(ctx)
	if err != nil {
		log.Error("sweep failed", slog.Any("err", err))
		return
	}
	if swept > 0 {
		log.Info("auto-rejected expired bookings", slog.Int("count", swept))
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
