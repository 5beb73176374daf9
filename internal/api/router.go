// Package api wires the HTTP surface of the service.
package api

import (
	"net/http"
	"time"

	"github.com/scriptgen/backend/internal/health"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/metrics"
	"github.com/scriptgen/backend/internal/middleware"
	"github.com/scriptgen/backend/internal/validators"
	"github.com/scriptgen/backend/internal/websocket"
)

// RouterConfig collects the handler dependencies. Health, Metrics,
// Progress, Validators and Links are optional.
type RouterConfig struct {
	Jobs           JobService
	Statuses       StatusService
	Links          LinkVerifier
	Validators     *validators.Registry
	Health         *health.Handler
	Metrics        *metrics.Metrics
	Progress       *websocket.Handler
	AllowedOrigins []string
	SlowRequest    time.Duration
	Logger         *logger.Logger
}

type Router struct {
	mux        *http.ServeMux
	handler    http.Handler
	transcribe *TranscribeHandlers
	scripts    *ScriptHandlers
	downloads  *DownloadHandlers
	validators *validators.Handlers
	cfg        RouterConfig
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	registry := cfg.Validators
	if registry == nil {
		registry = validators.DefaultRegistry()
	}
	r := &Router{
		mux:        http.NewServeMux(),
		transcribe: NewTranscribeHandlers(cfg.Jobs, cfg.Statuses),
		scripts:    NewScriptHandlers(cfg.Jobs),
		downloads:  NewDownloadHandlers(cfg.Jobs, cfg.Statuses, cfg.Links),
		validators: validators.NewHandlers(registry),
		cfg:        cfg,
	}
	r.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		logger.Recover(cfg.Logger),
		logger.Requests(cfg.Logger),
	}
	if cfg.Metrics != nil {
		chain = append(chain, metrics.MetricsMiddleware(cfg.Metrics))
	}
	if len(cfg.AllowedOrigins) > 0 {
		chain = append(chain, middleware.CORS(cfg.AllowedOrigins))
	}
	chain = append(chain,
		middleware.Timing(cfg.Logger, cfg.SlowRequest),
		middleware.Gzip,
		middleware.ETag,
	)
	r.handler = middleware.Chain(r.mux, chain...)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health and metrics
	if r.cfg.Health != nil {
		r.mux.HandleFunc("GET /health", r.cfg.Health.HealthHandler)
		r.mux.HandleFunc("GET /health/ready", r.cfg.Health.ReadinessHandler)
	}
	if r.cfg.Metrics != nil {
		r.mux.HandleFunc("GET /metrics", r.cfg.Metrics.Handler())
	}

	// Transcription
	r.mux.HandleFunc("POST /api/v1/transcribe", r.transcribe.Submit)
	r.mux.HandleFunc("GET /api/v1/transcribe/status/{task_id}", r.transcribe.Status)

	// Scripts
	r.mux.HandleFunc("GET /api/v1/scripts", r.scripts.List)
	r.mux.HandleFunc("GET /api/v1/scripts/{id}", r.scripts.Get)
	r.mux.HandleFunc("GET /api/v1/scripts/{id}/download", r.scripts.Download)

	// Downloads
	r.mux.HandleFunc("POST /api/v1/download/video", r.downloads.SubmitVideo)
	r.mux.HandleFunc("POST /api/v1/download/video/direct", r.downloads.Direct)
	r.mux.HandleFunc("POST /api/v1/download/script/{id}/video", r.downloads.ScriptVideo)
	r.mux.HandleFunc("POST /api/v1/download/videos", r.downloads.Submit)
	r.mux.HandleFunc("GET /api/v1/download/status/{task_id}", r.downloads.Status)
	r.mux.HandleFunc("GET /api/v1/download/file/{task_id}", r.downloads.File)

	// URL validation
	r.mux.HandleFunc("GET /api/v1/validate", r.validators.ValidateURL)
	r.mux.HandleFunc("GET /api/v1/validate/sources", r.validators.GetSupportedSources)

	// Live progress
	if r.cfg.Progress != nil {
		r.mux.HandleFunc("GET /ws/progress/{task_id}", r.cfg.Progress.ServeWS)
	}
}
