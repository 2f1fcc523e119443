package projection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts runtime activity per projection. A nil *Metrics records
// nothing.
type Metrics struct {
	EventsHandled    *prometheus.CounterVec
	CheckpointWrites *prometheus.CounterVec
	LockRenewals     *prometheus.CounterVec
	LockConflicts    *prometheus.CounterVec
	GapRetries       *prometheus.CounterVec
}

// NewMetrics registers the projection counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prowl_projection_events_handled_total",
			Help: "Events passed to a projection handler",
		}, []string{"projection"}),
		CheckpointWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prowl_projection_checkpoint_writes_total",
			Help: "Position and state writes to the checkpoint store",
		}, []string{"projection"}),
		LockRenewals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prowl_projection_lock_renewals_total",
			Help: "Lease renewals written without a checkpoint",
		}, []string{"projection"}),
		LockConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prowl_projection_lock_conflicts_total",
			Help: "Lease acquisitions refused because another runner holds the lease",
		}, []string{"projection"}),
		GapRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prowl_projection_gap_retries_total",
			Help: "Passes restarted to wait for a gap in stream numbering",
		}, []string{"projection"}),
	}
}

func (m *Metrics) eventHandled(name string) {
	if m != nil {
		m.EventsHandled.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) checkpointWritten(name string) {
	if m != nil {
		m.CheckpointWrites.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) lockRenewed(name string) {
	if m != nil {
		m.LockRenewals.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) lockConflict(name string) {
	if m != nil {
		m.LockConflicts.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) gapRetried(name string) {
	if m != nil {
		m.GapRetries.WithLabelValues(name).Inc()
	}
}
