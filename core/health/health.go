// Package health provides liveness and readiness checks for the magiclink
// service, suitable for Kubernetes probes and load balancers.
//
//	manager := health.NewManager("1.0.0")
//	manager.Register(health.NewPingChecker("database", db.PingContext))
//
//	e.GET("/healthz", echo.WrapHandler(manager.LiveHandler()))
//	e.GET("/ready", echo.WrapHandler(manager.ReadyHandler()))
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of a single health check.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the overall health report.
type Report struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Checker is the interface for health check implementations.
type Checker interface {
	Name() string
	Check(ctx context.Context) *Check
}

// Manager coordinates health checks.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	version  string
	timeout  time.Duration
}

// NewManager creates a new health manager.
func NewManager(version string) *Manager {
	return &Manager{version: version, timeout: 5 * time.Second}
}

// Register adds a health checker.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check runs all registered checks and returns a report.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	report := &Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Checks:    make([]Check, 0, len(checkers)),
	}

	for _, checker := range checkers {
		start := time.Now()
		check := checker.Check(ctx)
		if check == nil {
			check = &Check{Name: checker.Name(), Status: StatusUnhealthy}
		}
		check.LatencyMs = time.Since(start).Milliseconds()
		check.Timestamp = time.Now()
		report.Checks = append(report.Checks, *check)
		if check.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		}
	}

	return report
}

// IsReady reports whether the service should accept traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Check(ctx).Status == StatusHealthy
}

// LiveHandler serves liveness checks. Process-up only, no dependencies.
func (m *Manager) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ReadyHandler serves readiness checks, running all registered checkers.
func (m *Manager) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		report := m.Check(r.Context())
		if report.Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// PingChecker checks connectivity of a dependency via a ping function.
// Covers databases and Redis alike.
type PingChecker struct {
	name   string
	pingFn func(ctx context.Context) error
}

// NewPingChecker creates a ping-based health checker.
func NewPingChecker(name string, pingFn func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, pingFn: pingFn}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) *Check {
	check := &Check{Name: c.name}
	if err := c.pingFn(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = StatusHealthy
		check.Message = "connected"
	}
	return check
}
