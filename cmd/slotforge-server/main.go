package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
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
	"slotforge/internal/service/schedule"
	"slotforge/internal/store/postgres"
	httpTransport "slotforge/internal/transport/http"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "slotforge-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "slotforge-server"),
	)
	slog.SetDefault(log)

	log.Info("starting", slog.String("http_addr", cfg.HTTPAddr), slog.String("log_level", cfg.LogLevel))

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	if err := postgres.ApplyMigrations(context.Background(), db); err != nil {
		log.Error("migrations failed", slog.Any("err", err))
		os.Exit(1)
	}

	var rdb *redis.Client
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		notifier = notify.NewRedisNotifier(rdb, cfg.NotifyChannel, log)
		log.Info("booking events publish to redis", slog.String("channel", cfg.NotifyChannel))
	}

	var invoicer billing.Invoicer = billing.NopInvoicer{}
	if cfg.BillingURL != "" {
		invoicer = billing.NewClient(cfg.BillingURL, cfg.BillingTimeout)
		log.Info("billing enabled", slog.String("billing_url", cfg.BillingURL))
	}

	scheduleRepo := postgres.NewScheduleRepo(db)
	bookingRepo := postgres.NewBookingRepo(db)
	schedules := schedule.NewService(scheduleRepo, log)
	bookings := booking.NewService(bookingRepo, scheduleRepo, invoicer, notifier, log)

	router := httpTransport.NewRouter(httpTransport.RouterConfig{
		Schedules: schedules,
		Bookings:  bookings,
		DB:        db,
		Redis:     rdb,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           http.TimeoutHandler(router, cfg.RequestTimeout, "request timed out"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, srv, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}
}

func shutdown(log *slog.Logger, srv *http.Server, timeout time.Duration) {
	log.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown timed out; forcing close", slog.Any("err", err))
		_ = srv.Close()
		return
	}
	log.Info("http server stopped")
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

// databaseLogArgs extracts loggable connection details without the password.
func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db", "unparseable url")}
	}
	return []any{
		slog.String("db_host", u.Host),
		slog.String("db_name", strings.TrimPrefix(u.Path, "/")),
	}
}
