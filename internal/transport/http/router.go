package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"slotforge/internal/service/booking"
	"slotforge/internal/service/schedule"
)

type RouterConfig struct {
	Schedules *schedule.Service
	Bookings  *booking.Service
	DB        *bun.DB
	Redis     *redis.Client
	Log       *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.DB, cfg.Redis)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h := &handlers{schedules: cfg.Schedules, bookings: cfg.Bookings}

	r.Route("/availability", func(r chi.Router) {
		r.Post("/", h.createDefinition)
		r.Get("/{id}", h.getDefinition)
		r.Put("/{id}", h.updateDefinition)
		r.Delete("/{id}", h.archiveDefinition)
		r.Post("/{id}/pause", h.pauseDefinition)
		r.Post("/{id}/activate", h.activateDefinition)
		r.Post("/{id}/exceptions", h.createException)
		r.Get("/{id}/exceptions", h.listExceptions)
	})
	r.Delete("/exceptions/{id}", h.deleteException)

	r.Get("/owners/{ownerID}/availability", h.listDefinitions)
	r.Get("/owners/{ownerID}/slots", h.listSlots)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.createBooking)
		r.Get("/{id}", h.getBooking)
		r.Post("/{id}/confirm", h.confirmBooking)
		r.Post("/{id}/reject", h.rejectBooking)
		r.Post("/{id}/cancel", h.cancelBooking)
		r.Post("/{id}/no-show", h.markNoShow)
		r.Post("/{id}/complete", h.completeBooking)
	})
	r.Get("/clients/{id}/bookings", h.listClientBookings)
	r.Get("/providers/{id}/bookings", h.listProviderBookings)

	return r
}
