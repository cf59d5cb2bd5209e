// Package server exposes registered views over HTTP and pushes their
// re-renders to browsers through a websocket hub.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/asyncview/internal/config"
	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/loop"
	"github.com/conneroisu/asyncview/internal/producer"
	"github.com/conneroisu/asyncview/internal/projector"
	"github.com/conneroisu/asyncview/internal/registry"
	"github.com/conneroisu/asyncview/internal/renderer"
	"github.com/conneroisu/asyncview/internal/validation"
	"github.com/conneroisu/asyncview/internal/version"
	"github.com/conneroisu/asyncview/internal/websocket"
)

const errorLimit = 100

// Server serves the live views declared in the configuration.
type Server struct {
	config    *config.Config
	logger    logging.Logger
	hub       *websocket.Hub
	registry  *registry.ViewRegistry
	collector *errors.ErrorCollector
	metrics   *metrics
	started   time.Time

	// loop applies every producer callback, one at a time.
	loop         *loop.Loop
	stopProducer context.CancelFunc

	// Registry events, consumed as a stream to tell browsers about
	// removed views.
	events     <-chan registry.Event
	eventsDone chan struct{}

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// New builds every configured view and attaches it to its producer. Views
// publish to the websocket hub from the moment they are attached.
func New(cfg *config.Config, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("server")

	proxies, err := websocket.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, errors.ConfigurationError("server.trusted_proxies", err.Error(), cfg.Server.TrustedProxies)
	}

	hub := websocket.NewHub(websocket.AllowedOrigins(cfg.Server.AllowedOrigins), logger,
		websocket.WithTrustedProxies(proxies))
	collector := errors.NewErrorCollector(errorLimit)
	reg := registry.New(logger)
	lp := startLoop(logger)
	ctx, stopProducers := context.WithCancel(context.Background())

	builder := &registry.Builder{
		Config:     cfg,
		Sink:       hub,
		Collector:  collector,
		Logger:     logger,
		Dispatcher: lp,
	}
	if err := builder.BuildAll(ctx, reg); err != nil {
		cleanupErr := reg.DetachAll()
		stopProducers()
		lp.Close()
		_ = hub.Shutdown(context.Background())
		if cleanupErr != nil {
			return nil, stderrors.Join(err, cleanupErr)
		}
		return nil, err
	}

	s := &Server{
		config:       cfg,
		logger:       logger,
		hub:          hub,
		registry:     reg,
		collector:    collector,
		metrics:      newMetrics(newViewCollector(reg, lp, hub, collector)),
		started:      time.Now(),
		loop:         lp,
		stopProducer: stopProducers,
		events:       reg.Watch(),
		eventsDone:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	producer.FromChan(s.events).Subscribe(projector.Observer[registry.Event]{
		Next: func(e registry.Event) {
			lp.Dispatch(func() { s.forward(e) })
		},
		Complete: func() { close(s.eventsDone) },
	})
	return s, nil
}

func startLoop(logger logging.Logger) *loop.Loop {
	lp := loop.New(logger)
	go func() {
		if err := lp.Run(context.Background()); err != nil {
			logger.Error(context.Background(), err, "event loop stopped")
		}
	}()
	return lp
}

// forward tells browsers that a view is gone.
func (s *Server) forward(e registry.Event) {
	if e.Type != registry.EventTypeRemoved {
		return
	}
	s.hub.BroadcastMessage(websocket.UpdateMessage{
		Type:      websocket.MessageRemoved,
		Target:    e.View,
		Timestamp: e.Timestamp,
	})
}

// Registry returns the views served.
func (s *Server) Registry() *registry.ViewRegistry { return s.registry }

// Hub returns the websocket hub views publish to.
func (s *Server) Hub() *websocket.Hub { return s.hub }

// Handler returns the HTTP routes with recovery, CORS and request
// instrumentation applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	allowed := websocket.AllowedOrigins(s.config.Server.AllowedOrigins)
	r.Use(cors.Handler(cors.Options{
		// Same rule as websocket upgrades: same host or server.allowed_origins.
		AllowOriginFunc: func(r *http.Request, origin string) bool { return allowed.IsAllowedOrigin(origin, r) },
		AllowedMethods:  []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:  []string{"Content-Type"},
		MaxAge:          300,
	}))
	r.Use(s.instrument)

	r.Get("/", s.handleIndex)
	r.Get("/views/{name}", s.handleView)
	r.Delete("/views/{name}", s.handleRemove)
	r.Get("/ws", s.hub.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/errors", s.handleErrors)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

// Start listens on the configured address and serves until Shutdown is
// called or ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "serving views", "addr", listener.Addr().String(), "views", s.registry.Count())

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, err, "shutdown failed")
		}
	})
	defer stop()

	err := server.Serve(listener)
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	// Serve returns as soon as shutdown begins; wait for it to finish.
	<-s.shutdownDone
	return nil
}

// Shutdown releases every view subscription, drains the event loop, closes
// websocket clients and then stops the HTTP server. Only the first call does
// any work.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		defer close(s.shutdownDone)
		s.logger.Info(ctx, "shutting down server")

		var errs []error
		if err := s.registry.DetachAll(); err != nil {
			errs = append(errs, err)
		}
		s.stopProducer()

		s.registry.UnWatch(s.events)
		if err := wait(ctx, s.eventsDone); err != nil {
			errs = append(errs, err)
		}
		s.loop.Close()
		if err := wait(ctx, s.loop.Done()); err != nil {
			errs = append(errs, err)
		}

		if err := s.hub.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		shutdownErr = stderrors.Join(errs...)
	})

	return shutdownErr
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.Server.ShutdownTimeout > 0 {
		return s.config.Server.ShutdownTimeout
	}
	return 5 * time.Second
}

func (s *Server) overlay() string {
	if !s.config.Server.ErrorOverlay {
		return ""
	}
	return s.collector.ErrorOverlay()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := renderer.Index("Views", s.registry.List(), s.overlay())
	if err := page.Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "failed to render index")
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.ValidateViewName(name); err != nil {
		http.Error(w, "Invalid view name", http.StatusBadRequest)
		return
	}

	h, ok := s.registry.Get(name)
	if !ok {
		http.Error(w, "View not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderer.Single(h, s.overlay()).Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "failed to render view", "view", name)
	}
}

// handleRemove detaches a view and drops it from the registry.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.ValidateViewName(name); err != nil {
		http.Error(w, "Invalid view name", http.StatusBadRequest)
		return
	}

	if err := s.registry.Remove(name); err != nil {
		if errors.HasErrorCode(err, errors.ErrCodeUnknownView) {
			http.Error(w, "View not found", http.StatusNotFound)
			return
		}
		s.logger.Error(r.Context(), err, "view cleanup failed", "view", name)
		http.Error(w, "View cleanup failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sent, dropped := s.hub.Stats()

	views := make([]map[string]interface{}, 0, s.registry.Count())
	for _, info := range s.registry.Infos() {
		views = append(views, map[string]interface{}{
			"name":   info.Name,
			"source": info.Source,
			"state":  info.State.String(),
		})
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   version.Get().Short(),
		"views":     views,
		"websocket": map[string]interface{}{
			"clients": s.hub.ConnectedClients(),
			"sent":    sent,
			"dropped": dropped,
		},
		"errors": len(s.collector.GetErrors()),
	}

	s.writeJSON(w, r, health)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	collected := s.collector.GetErrors()
	if name := r.URL.Query().Get("view"); name != "" {
		collected = s.collector.GetErrorsByView(name)
	}

	out := make([]map[string]interface{}, 0, len(collected))
	for _, e := range collected {
		out = append(out, map[string]interface{}{
			"view":      e.View,
			"error":     e.Err.Error(),
			"timestamp": e.Timestamp.UTC(),
		})
	}
	s.writeJSON(w, r, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(r.Context(), err, "failed to encode response", "path", r.URL.Path)
	}
}
