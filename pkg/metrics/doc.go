/*
Package metrics provides Prometheus metrics and health endpoints for
layerstore.

All metrics are package variables registered with the default Prometheus
registry at init. They are updated by the packages doing the work:

	storage    layerstore_backend_operations_total{backend,op}
	layerdb    layerstore_load_duration_seconds{backend}
	           layerstore_layer_objects_loaded_total{kind}
	           layerstore_corrupted_state_errors_total
	           layerstore_stored_rows{table}
	           layerstore_unloadable_stacks
	freespace  layerstore_freespace_pending_bytes{pool}
	           layerstore_freespace_free_bytes{pool}
	           layerstore_freespace_total_bytes{pool}

# Health

A HealthChecker keeps the last reported state of named components. Health
is unhealthy while any component is; readiness additionally requires every
critical component to have reported at least once. The default checker
treats "backend" (the store could be opened) and "state" (the last checking
load found no broken layer stack) as critical.

NewServeMux serves the default registry and checker:

	/metrics  Prometheus exposition
	/health   200 or 503 with a HealthStatus body
	/ready    200 or 503 with a HealthStatus body
	/live     always 200

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LoadDuration, "sql")
*/
package metrics
