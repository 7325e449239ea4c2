// Package metrics provides Prometheus metrics for backup operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Prometheus metrics
var (
	// BackupCount tracks the total number of backups performed per engine
	BackupCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "godbvault_backup_total",
		Help: "The total number of backups performed",
	}, []string{"engine", "status"})

	// BackupDuration measures end-to-end time of one backup (dump + ship)
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "godbvault_backup_duration_seconds",
		Help:    "Time taken to dump and ship one backup",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine"})

	// BackupSize tracks the size of the most recent backup per connection
	BackupSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "godbvault_backup_size_bytes",
		Help: "Size of the most recent backup artifact in bytes",
	}, []string{"connection"})

	// RetentionDeletions counts backups deleted by retention pruning
	RetentionDeletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "godbvault_backup_deletions_total",
		Help: "The total number of backups deleted by retention pruning",
	})

	// ScheduledRunCount tracks scheduled job dispatches by outcome
	ScheduledRunCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "godbvault_scheduled_run_total",
		Help: "The total number of scheduled backup job dispatches",
	}, []string{"job", "status"})
)

// StartMetricsServer serves /metrics and /health until the listener
// fails. Callers run it in its own goroutine.
func StartMetricsServer(port string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info().Str("port", port).Msg("Starting metrics server")
	return server.ListenAndServe()
}
