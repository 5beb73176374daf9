// Package websocket streams run progress to browsers.
package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/scriptgen/backend/internal/cache"
	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/status"
)

// StatusSource resolves the current status of a run.
type StatusSource interface {
	GetStatus(ctx context.Context, runID, jobID string) *status.NormalizedStatus
}

// ConnMetrics tracks open connections.
type ConnMetrics interface {
	IncWSConnections()
	DecWSConnections()
}

// HandlerConfig wires a Handler. An empty AllowedOrigins accepts any origin.
type HandlerConfig struct {
	Statuses       StatusSource
	Publisher      cache.Publisher
	Metrics        ConnMetrics
	AllowedOrigins []string
	Logger         *logger.Logger
}

// Handler upgrades progress requests and relays snapshot updates.
type Handler struct {
	hub       *Hub
	statuses  StatusSource
	publisher cache.Publisher
	metrics   ConnMetrics
	upgrader  websocket.Upgrader
	log       *logger.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		hub:       hub,
		statuses:  cfg.Statuses,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		log: log.WithComponent("websocket"),
	}
}

// ServeWS handles GET /ws/progress/{task_id}[?script_id=]. The current
// status is sent first; live updates follow until the run finishes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("task_id")
	if runID == "" {
		apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.ValidationError("task_id is required"))
		return
	}
	jobID := r.URL.Query().Get("script_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := NewClient(h.hub, conn, runID)
	if !h.hub.add(client) {
		conn.Close()
		return
	}
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}

	go client.WritePump()
	go client.ReadPump()
	go h.relay(client, jobID)
}

// relay subscribes before reading the current status so no update falls
// between the two.
func (h *Handler) relay(client *Client, jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.hub.drop(client)
		if h.metrics != nil {
			h.metrics.DecWSConnections()
		}
	}()

	var updates <-chan *cache.Snapshot
	if h.publisher != nil {
		sub, err := h.publisher.Subscribe(ctx, client.runID)
		if err != nil {
			h.log.Warn(ctx, "progress subscribe failed", map[string]interface{}{
				"task_id": client.runID,
				"error":   err.Error(),
			})
		} else {
			defer sub.Close()
			updates = sub.Channel()
		}
	}

	current := messageFromStatus(h.statuses.GetStatus(ctx, client.runID, jobID))
	if jobID == "" {
		jobID = current.ScriptID
	}
	if !client.Send(current) || current.Terminal() || updates == nil {
		<-client.Done()
		return
	}

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				client.shutdown()
				return
			}
			msg := messageFromSnapshot(snap, jobID)
			if !client.Send(msg) || msg.Terminal() {
				<-client.Done()
				return
			}
		case <-client.Done():
			return
		}
	}
}

// GetHub returns the hub instance for external access.
func (h *Handler) GetHub() *Hub {
	return h.hub
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[strings.ToLower(origin)]
	}
}
