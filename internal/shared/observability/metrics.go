package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ResolutionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cacheguard_resolutions_live",
		Help: "Number of resolutions currently held live in project caches.",
	})

	DirectoryWatchesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cacheguard_directory_watches_live",
		Help: "Number of directory watches currently registered.",
	})

	FileWatchesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cacheguard_file_watches_live",
		Help: "Number of file watches currently registered.",
	})

	VerifyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cacheguard_verify_runs_total",
		Help: "Total number of verification passes, by outcome.",
	}, []string{"outcome"})

	VerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cacheguard_verify_seconds",
		Help:    "Time spent in one full verification pass.",
		Buckets: prometheus.DefBuckets,
	})

	ProgramBuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cacheguard_program_builds_total",
		Help: "Total number of program graph rebuilds.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cacheguard_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	InvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cacheguard_invalidations_total",
		Help: "Total number of resolutions invalidated by watch events.",
	})
)
