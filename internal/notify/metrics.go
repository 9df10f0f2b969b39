package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScheduleRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prayeralert_schedule_runs_total",
		Help: "Scheduling tasks by outcome (committed, cancelled, failed).",
	}, []string{"result"})

	ScheduleSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prayeralert_schedule_skipped_total",
		Help: "Schedule requests skipped because the signature was unchanged.",
	})

	BlueprintsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prayeralert_blueprints_committed_total",
		Help: "Alerts added or overwritten in the pending store.",
	}, []string{"kind"})

	BlueprintFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prayeralert_blueprint_failures_total",
		Help: "Alerts the pending store rejected.",
	})

	AlertsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prayeralert_alerts_removed_total",
		Help: "Stale pending alerts removed by the diff step.",
	})

	CommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prayeralert_commit_latency_seconds",
		Help:    "Duration of the diff-and-commit step.",
		Buckets: prometheus.DefBuckets,
	})

	MeetingCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prayeralert_meeting_cache_lookups_total",
		Help: "Meeting cache lookups by result (hit, miss).",
	}, []string{"result"})

	CalendarFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prayeralert_calendar_fetches_total",
		Help: "Calendar queries issued by the meeting cache by result (ok, error).",
	}, []string{"result"})

	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prayeralert_alerts_dispatched_total",
		Help: "Alerts delivered by the dispatcher by sound kind.",
	}, []string{"sound"})
)

// CacheMetrics feeds meeting cache outcomes into the counters above.
type CacheMetrics struct{}

func (CacheMetrics) CacheLookup(hit bool) {
	if hit {
		MeetingCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	MeetingCacheLookups.WithLabelValues("miss").Inc()
}

func (CacheMetrics) CalendarFetch(ok bool) {
	if ok {
		CalendarFetches.WithLabelValues("ok").Inc()
		return
	}
	CalendarFetches.WithLabelValues("error").Inc()
}
