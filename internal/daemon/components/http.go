package components

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sorrel-ai/hearth/internal/config"
	"github.com/sorrel-ai/hearth/internal/daemon"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerComponent exposes the kernel over HTTP: a health endpoint
// for the daemon's own component tree, a Prometheus scrape endpoint,
// and a small REST surface over the event bus and task engine so
// external callers (adapters without their own transport, operators)
// can submit events and manage durable tasks without going through an
// extension.
type HTTPServerComponent struct {
	daemon      *daemon.Daemon
	kernel      *KernelComponent
	cfg         *config.ServerConfig
	deps        []string
	server      *http.Server
	shutdownTTL time.Duration
	initialized bool
	started     bool
	mu          sync.RWMutex
	startTime   time.Time
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.ServerConfig) *HTTPServerComponent {
	return NewHTTPServerComponentWithDependencies(d, cfg, []string{
		"Kernel",
	})
}

func NewHTTPServerComponentWithDependencies(d *daemon.Daemon, cfg *config.ServerConfig, deps []string) *HTTPServerComponent {
	depList := make([]string, len(deps))
	copy(depList, deps)
	return &HTTPServerComponent{
		daemon:      d,
		cfg:         cfg,
		deps:        depList,
		initialized: false,
		started:     false,
	}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	deps := make([]string, len(h.deps))
	copy(deps, h.deps)
	return deps
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.daemon == nil {
		return fmt.Errorf("daemon manager not configured")
	}
	kernelComp := h.daemon.Component("Kernel")
	if kernelComp == nil {
		return fmt.Errorf("kernel component not registered")
	}
	kernel, ok := kernelComp.(*KernelComponent)
	if !ok {
		return fmt.Errorf("kernel component has unexpected type")
	}
	h.kernel = kernel

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/v1/events", h.handleEvents)
	mux.HandleFunc("/api/v1/tasks", h.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", h.handleTaskByID)
	mux.Handle("/metrics", promhttp.Handler())

	readTimeout, err := config.DurationOrDefault(h.cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(h.cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(h.cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(h.cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	h.startTime = time.Now()
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return &daemon.ComponentHealth{
			Name:    h.Name(),
			Healthy: false,
			Error:   fmt.Errorf("not initialized"),
		}, nil
	}

	if !h.started {
		return &daemon.ComponentHealth{
			Name:    h.Name(),
			Healthy: false,
			Error:   fmt.Errorf("not started"),
		}, nil
	}

	return &daemon.ComponentHealth{
		Name:    h.Name(),
		Healthy: true,
		Error:   nil,
	}, nil
}

func (h *HTTPServerComponent) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}

	healthResponse := map[string]interface{}{
		"status":  "ok",
		"version": "1.0.0",
	}

	componentHealths := h.daemon.ComponentHealth()
	componentHealthMap := make(map[string]interface{})
	for name, ch := range componentHealths {
		componentHealthMap[name] = map[string]interface{}{
			"healthy": ch.Healthy,
		}
		if ch.Error != nil {
			componentHealthMap[name].(map[string]interface{})["error"] = ch.Error.Error()
		}
	}

	healthResponse["components"] = componentHealthMap
	writeJSON(w, http.StatusOK, healthResponse)
}

type eventRequest struct {
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
}

// handleEvents is the external front door into the kernel for callers
// that aren't a channel extension: a plain user message is routed
// through the message router like any other channel, everything else
// is published onto the event bus journal under a source-qualified
// topic.
func (h *HTTPServerComponent) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	req.Type = strings.TrimSpace(req.Type)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "source is required"})
		return
	}

	if req.Type == "" || req.Type == "user_message" {
		if req.SessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "session_id is required for user_message"})
			return
		}
		if err := h.kernel.MessageRouter().HandleUserMessage(r.Context(), req.Source, req.SessionID, req.Content); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted"})
		return
	}

	topic := fmt.Sprintf("http.%s.%s", req.Source, req.Type)
	payload := map[string]interface{}{
		"session_id": req.SessionID,
		"content":    req.Content,
		"metadata":   req.Metadata,
	}
	id, err := h.kernel.Bus().Publish(r.Context(), topic, payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "id": id})
}

// handleTasks lists durable tasks currently pending or leased, or
// submits a new one.
func (h *HTTPServerComponent) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := h.kernel.Engine().ListActive(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
	case http.MethodPost:
		var req struct {
			AgentID     string `json:"agent_id"`
			Goal        string `json:"goal"`
			ParentID    string `json:"parent_task_id"`
			MaxAttempts int    `json:"max_attempts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
			return
		}
		if req.MaxAttempts <= 0 {
			req.MaxAttempts = 1
		}
		task, err := h.kernel.Engine().Submit(r.Context(), req.ParentID, req.AgentID, req.Goal, req.MaxAttempts)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, task)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
	}
}

// handleTaskByID serves /api/v1/tasks/{id} (status, cancel) and
// /api/v1/tasks/{id}/review (human-in-the-loop resume or cancel),
// mirroring the respond_to_review core tool's semantics for callers
// that reach the kernel over HTTP rather than as a tool call.
func (h *HTTPServerComponent) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if strings.HasSuffix(raw, "/review") {
		h.handleTaskReview(w, r, strings.TrimSuffix(raw, "/review"))
		return
	}

	taskID := strings.Trim(raw, "/")
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "task id is required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := h.kernel.Engine().Get(r.Context(), taskID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := h.kernel.Engine().Cancel(r.Context(), taskID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "status": "cancelled"})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
	}
}

func (h *HTTPServerComponent) handleTaskReview(w http.ResponseWriter, r *http.Request, taskID string) {
	taskID = strings.Trim(taskID, "/")
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "task id is required"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}

	var req struct {
		Approve bool   `json:"approve"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}

	if !req.Approve {
		if err := h.kernel.Engine().Cancel(r.Context(), taskID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "status": "cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "status": "resumed"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
