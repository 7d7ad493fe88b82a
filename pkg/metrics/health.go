package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Health states reported by GetHealth and GetReadiness
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the JSON body served by the health endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth is the last reported state of one component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker tracks component health. Readiness requires every
// critical component to be registered and healthy.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a checker whose readiness depends on critical
func NewHealthChecker(critical ...string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		startTime:  time.Now(),
	}
}

var healthChecker = NewHealthChecker("backend", "state")

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.SetVersion(version)
}

// UpdateComponent records the health of a component in the default checker
func UpdateComponent(name string, healthy bool, message string) {
	healthChecker.Update(name, healthy, message)
}

// GetHealth returns the overall health of the default checker
func GetHealth() HealthStatus {
	return healthChecker.Health()
}

// GetReadiness returns the readiness of the default checker
func GetReadiness() HealthStatus {
	return healthChecker.Readiness()
}

func (h *HealthChecker) SetVersion(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = version
}

// Update records the health of a component, registering it on first use
func (h *HealthChecker) Update(name string, healthy bool, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Component returns the last reported state of name
func (h *HealthChecker) Component(name string) (ComponentHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.components[name]
	return c, ok
}

// Health is unhealthy as soon as one registered component is
func (h *HealthChecker) Health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]string, len(h.components))
	for name, comp := range h.components {
		if comp.Healthy {
			components[name] = StatusHealthy
			continue
		}
		status = StatusUnhealthy
		components[name] = StatusUnhealthy + ": " + comp.Message
	}
	return h.status(status, "", components)
}

// Readiness is ready once every critical component reported healthy
func (h *HealthChecker) Readiness() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusReady
	message := ""
	components := make(map[string]string, len(h.critical))
	for _, name := range h.critical {
		comp, ok := h.components[name]
		switch {
		case !ok:
			status = StatusNotReady
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = StatusNotReady
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = StatusReady
		}
	}
	return h.status(status, message, components)
}

func (h *HealthChecker) status(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
	}
}

// HealthHandler serves /health from the default checker
func HealthHandler() http.HandlerFunc {
	return healthChecker.HealthHandler()
}

// ReadyHandler serves /ready from the default checker
func ReadyHandler() http.HandlerFunc {
	return healthChecker.ReadyHandler()
}

func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.Health()
		code := http.StatusOK
		if health.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := h.Readiness()
		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readiness)
	}
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}

// NewServeMux returns a mux serving /metrics, /health, /ready and /live
func NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
