package ledger

import (
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	created     prometheus.Counter
	conflicts   prometheus.Counter
	rejections  *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics registers the ledger counters on reg. A nil reg leaves them
// unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_created_total",
			Help: "Bookings committed.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_commit_conflicts_total",
			Help: "Writes that lost a race at commit time.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_rejections_total",
			Help: "Proposed slots rejected by validation, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_status_transitions_total",
			Help: "Status transitions by target status.",
		}, []string{"to"}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.conflicts, m.rejections, m.transitions)
	}
	return m
}

func (m *Metrics) rejected(err error) {
	m.rejections.WithLabelValues(booking.Code(err)).Inc()
}
