// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/scriptgen/backend/internal/errors"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Component is a named probe. A failing optional component degrades the
// service instead of taking it out of rotation.
type Component struct {
	Name     string
	Check    CheckFunc
	Optional bool
}

// Checker performs health checks on various components
type Checker struct {
	components   []Component
	version      string
	checkTimeout time.Duration
	now          func() time.Time
}

// CheckerConfig holds configuration for the health checker. DB and Redis
// are always probed; Components adds storage and tool checks.
type CheckerConfig struct {
	DB         *sql.DB
	Redis      *redis.Client
	Components []Component
	Version    string
	Timeout    time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	components := []Component{
		{Name: "database", Check: dbCheck(cfg.DB)},
		{Name: "redis", Check: redisCheck(cfg.Redis)},
	}
	components = append(components, cfg.Components...)
	return &Checker{
		components:   components,
		version:      cfg.Version,
		checkTimeout: timeout,
		now:          time.Now,
	}
}

type notConfiguredError string

func (e notConfiguredError) Error() string { return string(e) + " not configured" }

func dbCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		if db == nil {
			return notConfiguredError("database")
		}
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	}
}

func redisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		if client == nil {
			return notConfiguredError("redis")
		}
		return client.Ping(ctx).Err()
	}
}

// run executes one probe under the checker timeout.
func (c *Checker) run(ctx context.Context, comp Component) ComponentHealth {
	start := c.now()
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	err := comp.Check(ctx)
	if err == nil {
		return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
	}

	status := StatusUnhealthy
	if comp.Optional {
		status = StatusDegraded
	}
	msg := comp.Name + " check failed"
	if nc, ok := err.(notConfiguredError); ok {
		msg = nc.Error()
	}
	return ComponentHealth{Status: status, Message: msg, Duration: time.Since(start).String()}
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck performs a comprehensive health check (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  c.now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(c.components)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, comp := range c.components {
		wg.Add(1)
		go func(comp Component) {
			defer wg.Done()
			result := c.run(ctx, comp)
			mu.Lock()
			response.Components[comp.Name] = result
			mu.Unlock()
		}(comp)
	}
	wg.Wait()

	response.Status = overall(response.Components)
	return response
}

func overall(components map[string]ComponentHealth) Status {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler answers as long as the process can serve requests.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.checker.Check(r.Context()))
}

// ReadinessHandler probes every component. Degraded still answers 200.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.checker.DeepCheck(r.Context()))
}

// HealthHandler serves GET /health; ?deep=true runs the readiness probes.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, response *HealthResponse) {
	code := http.StatusOK
	if response.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), code, response)
}
