package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// HealthStatus represents the overall health status.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthResponse is returned by health check endpoints.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// HealthChecker reports the health of one component.
type HealthChecker func(ctx context.Context) ComponentHealth

// Health tracks readiness and the registered component checkers.
type Health struct {
	version string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	ready    bool
}

// NewHealth creates a new health tracker. It starts out not ready.
func NewHealth(version string) *Health {
	return &Health{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a health check for a named component.
func (h *Health) RegisterChecker(name string, checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// SetReady sets the readiness state.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state.
func (h *Health) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// LivenessHandler reports that the process is running.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, HealthResponse{
			Status:    HealthStatusHealthy,
			Timestamp: time.Now().UTC(),
			Version:   h.version,
		})
	}
}

// ReadinessHandler runs every checker once the process has been marked ready.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return h.checkHandler(true, 5*time.Second)
}

// FullHealthHandler runs every checker regardless of readiness.
func (h *Health) FullHealthHandler() http.HandlerFunc {
	return h.checkHandler(false, 10*time.Second)
}

func (h *Health) checkHandler(requireReady bool, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requireReady && !h.IsReady() {
			writeHealth(w, HealthResponse{
				Status:    HealthStatusUnhealthy,
				Timestamp: time.Now().UTC(),
				Version:   h.version,
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		writeHealth(w, h.Check(ctx))
	}
}

func writeHealth(w http.ResponseWriter, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}

// Check runs all registered checkers concurrently. The overall status is the
// worst component status.
func (h *Health) Check(ctx context.Context) HealthResponse {
	h.mu.RLock()
	checkers := make(map[string]HealthChecker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	resp := HealthResponse{
		Status:     HealthStatusHealthy,
		Timestamp:  time.Now().UTC(),
		Version:    h.version,
		Components: make(map[string]ComponentHealth, len(checkers)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()

			start := time.Now()
			result := checker(ctx)
			result.Latency = time.Since(start).String()

			mu.Lock()
			defer mu.Unlock()
			resp.Components[name] = result
			if severity(result.Status) > severity(resp.Status) {
				resp.Status = result.Status
			}
		}(name, checker)
	}
	wg.Wait()

	return resp
}

func severity(s HealthStatus) int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	default:
		return 2
	}
}

// DatabaseChecker creates a health checker for database connectivity.
func DatabaseChecker(ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: "database unreachable: " + err.Error(),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "connected"}
	}
}

// FilterChecker creates a health checker for the record filter engine.
func FilterChecker(isReady func() bool) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		if !isReady() {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: "filter policy not loaded",
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "ready"}
	}
}

// RecorderChecker reports the span recorder as degraded once it has dropped
// spans.
func RecorderChecker(dropped func() int64) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		if n := dropped(); n > 0 {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("%d spans dropped", n),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "ok"}
	}
}
