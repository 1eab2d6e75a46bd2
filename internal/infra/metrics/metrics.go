package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	buildsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "build_jobs_processed_total",
			Help: "Builds reaching a terminal status, labeled by status.",
		},
		[]string{"status"}, // 'ready', 'failed'
	)

	buildDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "build_duration_seconds",
			Help:    "Wall-clock build duration distribution per tier.",
			Buckets: []float64{30, 60, 120, 240, 480, 900, 1800, 3600},
		},
		[]string{"tier"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "build_queue_depth",
			Help: "Pending jobs in the priority queue.",
		},
	)

	queueRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "build_queue_rejections_total",
			Help: "Enqueue attempts rejected by the global admission cap.",
		},
	)

	slotsReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "build_semaphore_slots_reclaimed_total",
			Help: "Semaphore slots reclaimed after lease expiry (crashed workers).",
		},
	)

	scheduledPromotedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "build_scheduled_promoted_total",
			Help: "Deferred jobs promoted back into the queue.",
		},
	)

	staleJobsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "build_stale_jobs_reaped_total",
			Help: "Orphaned non-terminal job records deleted by the reaper.",
		},
	)
)

// MustRegister registers all collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			buildsProcessedTotal, buildDurationSeconds,
			queueDepth, queueRejectionsTotal,
			slotsReclaimedTotal, scheduledPromotedTotal, staleJobsReapedTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncBuild(status string) {
	buildsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveBuildDuration(tier string, seconds float64) {
	buildDurationSeconds.WithLabelValues(norm(tier)).Observe(seconds)
}

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

func IncQueueRejection() { queueRejectionsTotal.Inc() }

func AddSlotsReclaimed(n int) { slotsReclaimedTotal.Add(float64(n)) }

func AddScheduledPromoted(n int) { scheduledPromotedTotal.Add(float64(n)) }

func AddStaleJobsReaped(n int) { staleJobsReapedTotal.Add(float64(n)) }
