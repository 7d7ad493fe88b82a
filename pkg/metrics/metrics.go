package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backend metrics
	BackendOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layerstore_backend_operations_total",
			Help: "Total number of backend operations by backend and operation",
		},
		[]string{"backend", "op"},
	)

	// Load metrics
	LoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layerstore_load_duration_seconds",
			Help:    "Duration of a full database load in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	LayerObjectsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layerstore_layer_objects_loaded_total",
			Help: "Total number of layer objects reconstructed by layer kind",
		},
		[]string{"kind"},
	)

	CorruptedStateErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "layerstore_corrupted_state_errors_total",
			Help: "Total number of loads aborted by corrupted persisted state",
		},
	)

	// Collector metrics
	StoredRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layerstore_stored_rows",
			Help: "Number of rows per table at the last collection",
		},
		[]string{"table"},
	)

	UnloadableStacks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "layerstore_unloadable_stacks",
			Help: "Number of layer stacks that failed to load at the last collection",
		},
	)

	// Free space metrics
	FreeSpacePendingBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layerstore_freespace_pending_bytes",
			Help: "Allocated size of volumes still being created, by free space manager",
		},
		[]string{"pool"},
	)

	FreeSpaceFreeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layerstore_freespace_free_bytes",
			Help: "Last committed free capacity, by free space manager",
		},
		[]string{"pool"},
	)

	FreeSpaceTotalBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layerstore_freespace_total_bytes",
			Help: "Last committed total capacity, by free space manager",
		},
		[]string{"pool"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(BackendOperationsTotal)
	prometheus.MustRegister(LoadDuration)
	prometheus.MustRegister(LayerObjectsLoadedTotal)
	prometheus.MustRegister(CorruptedStateErrorsTotal)
	prometheus.MustRegister(StoredRows)
	prometheus.MustRegister(UnloadableStacks)
	prometheus.MustRegister(FreeSpacePendingBytes)
	prometheus.MustRegister(FreeSpaceFreeBytes)
	prometheus.MustRegister(FreeSpaceTotalBytes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
