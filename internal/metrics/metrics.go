package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Probe results.
const (
	ProbeAlive = "alive"
	ProbeDead  = "dead"
)

var (
	// ChannelsImported counts channels newly added to the catalog by imports
	ChannelsImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livevault_channels_imported_total",
		Help: "Total number of channels inserted by playlist imports",
	})

	// ImportFailures counts imports that ended in an error
	ImportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livevault_import_failures_total",
		Help: "Total number of failed playlist imports",
	})

	// Probes counts liveness probes by result
	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livevault_probes_total",
		Help: "Total number of stream liveness probes",
	}, []string{"result"})

	// ChannelsPruned counts channels deleted by liveness scans
	ChannelsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livevault_channels_pruned_total",
		Help: "Total number of dead channels removed by scans",
	})

	// LogosBackfilled counts logos written by enrichment
	LogosBackfilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livevault_logos_backfilled_total",
		Help: "Total number of channel logos filled from the logo mapping",
	})

	// ScanDuration observes how long full liveness scans take
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livevault_scan_duration_seconds",
		Help:    "Duration of liveness scans",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

// RecordProbe increments the probe counter for the given outcome
func RecordProbe(alive bool) {
	result := ProbeDead
	if alive {
		result = ProbeAlive
	}
	Probes.WithLabelValues(result).Inc()
}
