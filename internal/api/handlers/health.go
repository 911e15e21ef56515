package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Togather-Foundation/passvault/internal/breaker"
	"github.com/Togather-Foundation/passvault/internal/events"
	"github.com/Togather-Foundation/passvault/internal/metrics"
)

const checkTimeout = 2 * time.Second

// HealthCheck represents the health status of the server
type HealthCheck struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// CheckFunc runs one named check. It receives a context bounded by a
// per-check timeout.
type CheckFunc func(ctx context.Context) CheckResult

// HealthChecker aggregates named checks. A "fail" makes the service
// unhealthy (503); a "warn" only degrades it.
type HealthChecker struct {
	service   string
	version   string
	gitCommit string
	names     []string
	checks    map[string]CheckFunc
}

func NewHealthChecker(service, version, gitCommit string) *HealthChecker {
	return &HealthChecker{
		service:   service,
		version:   version,
		gitCommit: gitCommit,
		checks:    make(map[string]CheckFunc),
	}
}

// Add registers a check and returns h for chaining.
func (h *HealthChecker) Add(name string, fn CheckFunc) *HealthChecker {
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
		sort.Strings(h.names)
	}
	h.checks[name] = fn
	return h
}

// Health returns the full report.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A cancelled context here means the server is shutting down.
		if r.Context().Err() != nil {
			respondHealth(w, http.StatusServiceUnavailable, "shutting_down")
			return
		}

		checks, overall, statusCode := h.run(r.Context())
		writeJSON(w, statusCode, HealthCheck{
			Status:    overall,
			Service:   h.service,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    checks,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Ready reports whether every check passes or warns.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, _, statusCode := h.run(r.Context()); statusCode != http.StatusOK {
			respondHealth(w, statusCode, "not_ready")
			return
		}
		respondHealth(w, http.StatusOK, "ready")
	}
}

func (h *HealthChecker) run(ctx context.Context) (map[string]CheckResult, string, int) {
	checks := make(map[string]CheckResult, len(h.names))
	overall := "healthy"
	statusCode := http.StatusOK

	for _, name := range h.names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		result := h.checks[name](checkCtx)
		cancel()

		checks[name] = result
		metrics.HealthCheckStatus.WithLabelValues(name).Set(statusValue(result.Status))

		switch result.Status {
		case "fail":
			overall = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		case "warn":
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}
	return checks, overall, statusCode
}

func statusValue(status string) float64 {
	switch status {
	case "pass":
		return 2
	case "warn":
		return 1
	default:
		return 0
	}
}

// Pinger is satisfied by the storage repository.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck pings the database.
func DatabaseCheck(db Pinger) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if db == nil {
			return CheckResult{Status: "fail", Message: "Database not initialized"}
		}
		start := time.Now()
		err := db.Ping(ctx)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			message := "Database ping failed"
			if errors.Is(err, context.DeadlineExceeded) {
				message = fmt.Sprintf("Database ping timed out after %s", checkTimeout)
			}
			return CheckResult{
				Status:    "fail",
				Message:   message,
				LatencyMs: latency,
				Details:   map[string]any{"error": err.Error()},
			}
		}
		return CheckResult{Status: "pass", Message: "SQLite reachable", LatencyMs: latency}
	}
}

// MigrationCheck reads the golang-migrate bookkeeping table.
func MigrationCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if db == nil {
			return CheckResult{Status: "fail", Message: "Database not initialized"}
		}
		start := time.Now()

		var version int64
		var dirty bool
		err := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).
			Scan(&version, &dirty)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			message := "Failed to query migration version"
			if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
				message = "Migrations have not been applied"
			}
			return CheckResult{
				Status:    "fail",
				Message:   message,
				LatencyMs: latency,
				Details:   map[string]any{"error": err.Error()},
			}
		}
		if dirty {
			return CheckResult{
				Status:    "fail",
				Message:   "Database in dirty migration state - manual intervention required",
				LatencyMs: latency,
				Details:   map[string]any{"version": version, "dirty": true},
			}
		}
		return CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Migrations applied successfully (version %d)", version),
			LatencyMs: latency,
			Details:   map[string]any{"version": version, "dirty": false},
		}
	}
}

// BreakerCheck reports the storage circuit breaker. An open breaker
// degrades the gateway; it can still answer, just not reach storage.
func BreakerCheck(b *breaker.Breaker) CheckFunc {
	return func(context.Context) CheckResult {
		if b == nil {
			return CheckResult{Status: "fail", Message: "Circuit breaker not initialized"}
		}
		snap := b.Snapshot()
		details := map[string]any{
			"state":          snap.State,
			"failures":       snap.Failures,
			"threshold":      snap.Threshold,
			"resetTimeoutMs": snap.ResetTimeoutMs,
		}
		if !snap.LastFailure.IsZero() {
			details["lastFailure"] = snap.LastFailure.UTC().Format(time.RFC3339)
		}
		if snap.State == breaker.Closed.String() {
			return CheckResult{Status: "pass", Message: "Storage circuit closed", Details: details}
		}
		return CheckResult{Status: "warn", Message: "Storage circuit " + snap.State, Details: details}
	}
}

// IngestorCheck reports the audit event consumer. A nil status func means
// Kafka is disabled.
func IngestorCheck(status func() events.IngestorStatus) CheckFunc {
	return func(context.Context) CheckResult {
		if status == nil {
			return CheckResult{Status: "pass", Message: "Event ingestion disabled"}
		}
		st := status()
		details := map[string]any{
			"running":      st.Running,
			"stored":       st.Stored,
			"duplicates":   st.Duplicates,
			"deadLettered": st.DeadLettered,
		}
		if !st.Running {
			return CheckResult{Status: "warn", Message: "Event ingestor not running", Details: details}
		}
		return CheckResult{Status: "pass", Message: "Event ingestor running", Details: details}
	}
}

// Healthz is the liveness probe; it never touches dependencies.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondHealth(w, http.StatusOK, "ok")
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func respondHealth(w http.ResponseWriter, status int, value string) {
	writeJSON(w, status, healthResponse{Status: value})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
