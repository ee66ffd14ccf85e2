package module

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Health statuses reported by checks.
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Healthy returns a passing result.
func Healthy() HealthCheckResult {
	return HealthCheckResult{Status: HealthStatusHealthy}
}

// Unhealthy returns a failing result with the given message.
func Unhealthy(message string) HealthCheckResult {
	return HealthCheckResult{Status: HealthStatusUnhealthy, Message: message}
}

// HealthCheck is a function that performs a health check.
type HealthCheck func(ctx context.Context) HealthCheckResult

// AlwaysHealthy is the check installed for services registered without one.
func AlwaysHealthy(_ context.Context) HealthCheckResult {
	return Healthy()
}

// HealthMonitor runs registered health checks and records the latest verdict
// per service. Services are unknown (reported unhealthy) until the first run
// completes.
type HealthMonitor struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	checks  map[string]HealthCheck
	results map[string]HealthCheckResult
	lastRun time.Time
}

// NewHealthMonitor creates a HealthMonitor. timeout bounds each individual
// check; zero or negative selects 5 seconds.
func NewHealthMonitor(timeout time.Duration, logger *slog.Logger) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		logger:  logger,
		timeout: timeout,
		checks:  make(map[string]HealthCheck),
		results: make(map[string]HealthCheckResult),
	}
}

// SetCheck registers or replaces the health check for a service. A nil check
// removes the service from monitoring.
func (m *HealthMonitor) SetCheck(service string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if check == nil {
		delete(m.checks, service)
		delete(m.results, service)
		return
	}
	m.checks[service] = check
}

// RunChecks executes every registered check concurrently, each under its own
// timeout, and records the verdicts. A check that panics or does not return
// in time counts as unhealthy; one failing check never blocks the others.
func (m *HealthMonitor) RunChecks(ctx context.Context) map[string]HealthCheckResult {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	maps.Copy(checks, m.checks)
	m.mu.RUnlock()

	var (
		resMu   sync.Mutex
		results = make(map[string]HealthCheckResult, len(checks))
	)

	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			res := m.runCheck(ctx, check)
			resMu.Lock()
			results[name] = res
			resMu.Unlock()
			if res.Status != HealthStatusHealthy {
				m.logger.Warn("Health check failed", "service", name, "message", res.Message)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.results = results
	m.lastRun = time.Now()
	m.mu.Unlock()

	snapshot := make(map[string]HealthCheckResult, len(results))
	maps.Copy(snapshot, results)
	return snapshot
}

// runCheck executes one check in its own goroutine so a hung check cannot
// stall the run past the timeout.
func (m *HealthMonitor) runCheck(ctx context.Context, check HealthCheck) HealthCheckResult {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan HealthCheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Unhealthy(fmt.Sprintf("health check panicked: %v", r))
			}
		}()
		done <- check(cctx)
	}()

	select {
	case res := <-done:
		return res
	case <-cctx.Done():
		return Unhealthy("health check timed out")
	}
}

// IsHealthy reports the last recorded verdict for a service. Services never
// checked report false.
func (m *HealthMonitor) IsHealthy(service string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results[service].Status == HealthStatusHealthy
}

// Results returns a copy of the latest verdicts.
func (m *HealthMonitor) Results() map[string]HealthCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]HealthCheckResult, len(m.results))
	maps.Copy(out, m.results)
	return out
}

// Summary returns the healthy count, the number of monitored services, and
// the time the last run completed (zero before the first run).
func (m *HealthMonitor) Summary() (healthy, total int, lastRun time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, res := range m.results {
		if res.Status == HealthStatusHealthy {
			healthy++
		}
	}
	return healthy, len(m.checks), m.lastRun
}
