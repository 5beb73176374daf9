package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func ok(context.Context) error { return nil }

func fails(context.Context) error { return errors.New("connection refused") }

func TestChecker_BasicHealth(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		Version: "1.0.0",
		Timeout: 5 * time.Second,
	})

	response := checker.Check(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
	if response.Components != nil {
		t.Error("liveness should not probe components")
	}
}

func TestChecker_DeepCheck(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		want       Status
		wantComp   map[string]Status
	}{
		{
			name:       "optional storage healthy",
			components: []Component{{Name: "minio", Check: ok, Optional: true}},
			want:       StatusUnhealthy,
			wantComp:   map[string]Status{"database": StatusHealthy, "redis": StatusUnhealthy, "minio": StatusHealthy},
		},
		{
			name:       "optional failure degrades",
			components: []Component{{Name: "s3", Check: fails, Optional: true}},
			want:       StatusUnhealthy,
			wantComp:   map[string]Status{"s3": StatusDegraded},
		},
		{
			name:       "required failure",
			components: []Component{{Name: "yt-dlp", Check: fails}},
			want:       StatusUnhealthy,
			wantComp:   map[string]Status{"yt-dlp": StatusUnhealthy},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(&CheckerConfig{
				DB:         openSQLite(t),
				Components: tt.components,
				Timeout:    time.Second,
			})

			response := checker.DeepCheck(context.Background())

			if response.Status != tt.want {
				t.Errorf("status = %s, want %s", response.Status, tt.want)
			}
			for name, want := range tt.wantComp {
				if got := response.Components[name].Status; got != want {
					t.Errorf("%s = %s, want %s", name, got, want)
				}
			}
		})
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]ComponentHealth
		want       Status
	}{
		{"all healthy", map[string]ComponentHealth{"a": {Status: StatusHealthy}, "b": {Status: StatusHealthy}}, StatusHealthy},
		{"one degraded", map[string]ComponentHealth{"a": {Status: StatusHealthy}, "b": {Status: StatusDegraded}}, StatusDegraded},
		{"unhealthy wins", map[string]ComponentHealth{"a": {Status: StatusDegraded}, "b": {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overall(tt.components); got != tt.want {
				t.Errorf("overall() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestChecker_NotConfiguredMessage(t *testing.T) {
	checker := NewChecker(&CheckerConfig{})

	response := checker.DeepCheck(context.Background())

	if got := response.Components["redis"].Message; got != "redis not configured" {
		t.Errorf("redis message = %q", got)
	}
	if got := response.Components["database"].Message; got != "database not configured" {
		t.Errorf("database message = %q", got)
	}
}

func TestChecker_Timeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	checker := NewChecker(&CheckerConfig{
		Components: []Component{{Name: "minio", Check: slow, Optional: true}},
		Timeout:    20 * time.Millisecond,
	})

	start := time.Now()
	response := checker.DeepCheck(context.Background())

	if time.Since(start) > 2*time.Second {
		t.Error("deep check should respect the component timeout")
	}
	if response.Components["minio"].Status != StatusDegraded {
		t.Errorf("minio = %s, want degraded", response.Components["minio"].Status)
	}
}

func TestHandler_LivenessHandler(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{Version: "1.0.0"}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
}

func TestHandler_ReadinessHandler_Unhealthy(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{
		DB:         openSQLite(t),
		Components: []Component{{Name: "minio", Check: ok, Optional: true}},
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.ReadinessHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Components["minio"].Status != StatusHealthy {
		t.Errorf("expected minio healthy, got %s", response.Components["minio"].Status)
	}
}

func TestHandler_HealthHandler_DeepQuery(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{}))

	req := httptest.NewRequest(http.MethodGet, "/health?deep=true", nil)
	w := httptest.NewRecorder()

	handler.HealthHandler(w, req)

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Components) != 2 {
		t.Errorf("deep check should include database and redis, got %v", response.Components)
	}
}
