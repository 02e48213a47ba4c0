package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SlotsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotforge_slots_generated_total",
		Help: "Slots inserted by schedule regeneration.",
	})

	SlotsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotforge_slots_purged_total",
		Help: "Available slots deleted by regeneration, exceptions, or definition removal.",
	})

	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotforge_bookings_created_total",
		Help: "Bookings that successfully claimed a slot.",
	})

	BookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotforge_booking_transitions_total",
		Help: "Booking state transitions by target state.",
	}, []string{"to"})

	AutoRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotforge_auto_rejections_total",
		Help: "Pending bookings rejected by the sweep worker.",
	})

	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotforge_notify_failures_total",
		Help: "Booking event publishes that failed.",
	})
)
