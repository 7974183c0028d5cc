package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vigil-sec/vigil/internal/alarm"
	"github.com/vigil-sec/vigil/internal/alerts"
	"github.com/vigil-sec/vigil/internal/camera"
	"github.com/vigil-sec/vigil/internal/config"
	"github.com/vigil-sec/vigil/internal/detection"
	"github.com/vigil-sec/vigil/internal/events"
	"github.com/vigil-sec/vigil/internal/logging"
)

const (
	streamInterval  = 100 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// EventStore is the history queried by the events endpoints
type EventStore interface {
	List(ctx context.Context, opts events.ListOptions) ([]*events.Event, int, error)
	Get(ctx context.Context, id string) (*events.Event, error)
	Stats(ctx context.Context) (*events.StoreStats, error)
	Transitions(ctx context.Context, limit int) ([]*events.Transition, error)
}

// IdentityCache exposes completed identity checks by request id
type IdentityCache interface {
	CachedIdentity(requestID string) (*detection.IdentityResult, bool)
}

// BusHealth reports internal event bus connectivity
type BusHealth interface {
	HealthCheck(ctx context.Context) error
}

// AlertStats exposes dispatcher delivery counters
type AlertStats interface {
	Stats() alerts.Stats
}

// FrameEncoder turns a frame into JPEG bytes
type FrameEncoder func(*camera.Frame) ([]byte, error)

// Deps are the collaborators behind the HTTP surface
type Deps struct {
	Controller alarm.Controller
	Events     EventStore    // optional
	Alerts     AlertStats    // optional
	Metrics    http.Handler  // optional
	Hub        *Hub          // optional
	Logs       *logging.Ring // optional
	Identity   IdentityCache // optional
	Bus        BusHealth     // optional
	Encoder    FrameEncoder
}

// Server is the HTTP control surface
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router and the HTTP server around it
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "api"),
	}
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Router(),
	}
	return s
}

// Router assembles the chi route tree
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/arm", s.handleArm)
		r.Post("/disarm", s.handleDisarm)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/stream", s.handleStream)
		r.Get("/events", s.handleEvents)
		r.Get("/events/stats", s.handleEventStats)
		r.Get("/events/{id}", s.handleEvent)
		r.Get("/transitions", s.handleTransitions)
		r.Get("/identity/{id}", s.handleIdentity)
		r.Get("/alerts/stats", s.handleAlertStats)
		r.Get("/logs", s.handleLogs)
		r.Get("/health", s.handleHealth)
	})

	if s.deps.Metrics != nil {
		r.Method("GET", "/metrics", s.deps.Metrics)
	}
	if s.deps.Hub != nil {
		r.Get("/ws", s.deps.Hub.HandleWebSocket)
	}
	return r
}

// Start serves HTTP in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop drains connections with a bounded wait
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, s.deps.Controller.Status())
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.deps.Controller.Arm()
	if !ok {
		Conflict(w, msg)
		return
	}
	OK(w, map[string]string{"state": s.deps.Controller.Status().State, "message": msg})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.deps.Controller.Disarm()
	if !ok {
		Conflict(w, msg)
		return
	}
	OK(w, map[string]string{"state": s.deps.Controller.Status().State, "message": msg})
}

// handleSnapshot returns the current view as a single JPEG
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	frame := s.deps.Controller.CurrentFrame()
	if frame == nil {
		NotFound(w, "no frame available")
		return
	}
	jpeg, err := s.deps.Encoder(frame)
	if err != nil {
		InternalError(w, "failed to encode frame")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(jpeg)))
	_, _ = w.Write(jpeg)
}

// handleStream serves an MJPEG multipart stream until the client
// disconnects
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame := s.deps.Controller.CurrentFrame()
		if frame == nil {
			continue
		}
		jpeg, err := s.deps.Encoder(frame)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprint(w, "\r\n")
		flusher.Flush()
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		ServiceUnavailable(w, "event store not available")
		return
	}

	opts := events.ListOptions{
		EventType: events.EventType(r.URL.Query().Get("type")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		opts.Offset = n
	}

	list, total, err := s.deps.Events.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list events", "error", err)
		InternalError(w, "failed to list events")
		return
	}
	JSONWithMeta(w, http.StatusOK, list, &Meta{Total: total, Limit: opts.Limit, Offset: opts.Offset})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		ServiceUnavailable(w, "event store not available")
		return
	}
	event, err := s.deps.Events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, events.ErrNotFound) {
			NotFound(w, "event not found")
			return
		}
		s.logger.Error("Failed to load event", "error", err)
		InternalError(w, "failed to load event")
		return
	}
	OK(w, event)
}

// handleTransitions serves the arm/disarm/alarm transition log
func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		ServiceUnavailable(w, "event store not available")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	transitions, err := s.deps.Events.Transitions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list transitions", "error", err)
		InternalError(w, "failed to list transitions")
		return
	}
	OK(w, transitions)
}

// handleIdentity serves the outcome of an identity check that
// completed after its detection had already escalated
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Identity == nil {
		ServiceUnavailable(w, "identity cache not available")
		return
	}
	result, ok := s.deps.Identity.CachedIdentity(chi.URLParam(r, "id"))
	if !ok {
		NotFound(w, "identity result not found")
		return
	}
	OK(w, result)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		ServiceUnavailable(w, "event store not available")
		return
	}
	stats, err := s.deps.Events.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to query event stats", "error", err)
		InternalError(w, "failed to query event stats")
		return
	}
	OK(w, stats)
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		ServiceUnavailable(w, "alert dispatcher not available")
		return
	}
	OK(w, s.deps.Alerts.Stats())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		ServiceUnavailable(w, "log capture not available")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	OK(w, s.deps.Logs.Recent(limit))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus != nil {
		if err := s.deps.Bus.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			ServiceUnavailable(w, "event bus disconnected")
			return
		}
	}
	OK(w, map[string]string{"status": "ok"})
}
