// Package web is the management console: a small authenticated HTTP
// surface exposing the active route table, relay outcomes over a websocket
// feed, Prometheus metrics and a config hot-reload trigger.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"bridgex/internal/bus"
	"bridgex/internal/config"
	"bridgex/internal/domain"
	"bridgex/internal/filter"
	"bridgex/internal/metrics"

	"github.com/gorilla/websocket"
)

const feedReplayWindow = 10 * time.Minute

//go:embed templates/*.html
var templateFS embed.FS

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The console binds to loopback by default; token auth covers the
		// rest.
		return true
	},
}

// Server is the management console HTTP server.
type Server struct {
	host      string
	port      int
	authToken string

	table    func() *config.Table
	reload   func() error
	identity func() int
	notifier *bus.Notifier
	metrics  *metrics.MetricsCollector

	tmpl      *htmltemplate.Template
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	mu    sync.Mutex
	feeds map[*websocket.Conn]chan domain.Outcome
}

// Options wires a Server.
type Options struct {
	Host      string
	Port      int
	AuthToken string

	// Table returns the active route table; Reload rebuilds and swaps it.
	Table  func() *config.Table
	Reload func() error
	// IdentitySize reports the current identity map population.
	IdentitySize func() int

	Notifier *bus.Notifier
	Metrics  *metrics.MetricsCollector
	Logger   *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = 8642
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Collector
	}

	tmpl := htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))

	return &Server{
		host:      opts.Host,
		port:      opts.Port,
		authToken: opts.AuthToken,
		table:     opts.Table,
		reload:    opts.Reload,
		identity:  opts.IdentitySize,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		tmpl:      tmpl,
		logger:    opts.Logger,
		feeds:     make(map[*websocket.Conn]chan domain.Outcome),
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.notifier != nil {
		s.notifier.OnOutcome(s.fanOutOutcome)
	}
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.requireAuth(s.handleConsole))
	mux.HandleFunc("GET /api/routes", s.requireAuth(s.handleRoutes))
	mux.HandleFunc("GET /api/filters", s.requireAuth(s.handleFilters))
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/reload", s.requireAuth(s.handleReload))
	mux.HandleFunc("GET /ws/feed", s.requireAuth(s.handleFeed))
	mux.Handle("GET /metrics", s.metrics.Handler())

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("management console started",
		"addr", "http://"+addr, "auth", s.authToken != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeFeeds()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requireAuth enforces the bearer token when one is configured. Websocket
// clients may pass it as a query parameter since browsers cannot set
// headers on the upgrade request.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// routeView is the JSON shape of one bridge link.
type routeView struct {
	Endpoints []string `json:"endpoints"`
	Filters   int      `json:"filters"`
}

func (s *Server) routeViews() []routeView {
	table := s.table()
	if table == nil {
		return nil
	}
	views := make([]routeView, 0, len(table.Routes))
	for _, r := range table.Routes {
		v := routeView{Filters: len(r.Rules)}
		for _, ep := range r.Endpoints {
			v.Endpoints = append(v.Endpoints, ep.String())
		}
		views = append(views, v)
	}
	return views
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := struct {
		Routes       []routeView
		IdentitySize int
		Uptime       string
		Recent       []domain.Outcome
	}{
		Routes: s.routeViews(),
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.identity != nil {
		data.IdentitySize = s.identity()
	}
	if s.notifier != nil {
		data.Recent = s.notifier.Replay(time.Now().Add(-feedReplayWindow))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "console.html", data); err != nil {
		s.logger.Error("console render failed", "err", err)
	}
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"routes": s.routeViews()})
}

// filterView is the JSON shape of one route's effective rule list, inline
// rules first.
type filterView struct {
	Endpoints []string          `json:"endpoints"`
	Rules     []filter.RuleSpec `json:"rules"`
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	table := s.table()
	if table == nil {
		writeJSON(w, http.StatusOK, map[string]any{"filters": []filterView{}})
		return
	}
	views := make([]filterView, 0, len(table.Routes))
	for _, route := range table.Routes {
		v := filterView{Rules: route.RuleSpecs}
		for _, ep := range route.Endpoints {
			v.Endpoints = append(v.Endpoints, ep.String())
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"filters": views})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.identity != nil {
		status["identity_entries"] = s.identity()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		http.Error(w, "reload not configured", http.StatusNotImplemented)
		return
	}
	if err := s.reload(); err != nil {
		s.logger.Error("config reload failed", "err", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}
	s.logger.Info("config reloaded via console")
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

// handleFeed streams dispatch outcomes over a websocket, starting with a
// replay of the recent history so a console connecting late still has
// context.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("feed upgrade failed", "err", err)
		return
	}

	ch := make(chan domain.Outcome, 64)
	s.mu.Lock()
	s.feeds[conn] = ch
	s.mu.Unlock()
	s.logger.Info("feed client connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.feeds, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("feed client disconnected", "remote", r.RemoteAddr)
	}()

	var backlog []domain.Outcome
	if s.notifier != nil {
		backlog = s.notifier.Replay(time.Now().Add(-feedReplayWindow))
	}
	for _, o := range backlog {
		if err := conn.WriteJSON(o); err != nil {
			return
		}
	}

	// Reads are only serviced to detect the close frame.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for o := range ch {
		if err := conn.WriteJSON(o); err != nil {
			return
		}
	}
}

func (s *Server) fanOutOutcome(o domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.feeds {
		select {
		case ch <- o:
		default:
			// Slow consumer; drop the frame rather than the relay.
			s.logger.Debug("feed client lagging, outcome dropped", "remote", conn.RemoteAddr())
		}
	}
}

func (s *Server) closeFeeds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.feeds {
		close(ch)
		conn.Close()
		delete(s.feeds, conn)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
