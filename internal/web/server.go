package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"dynaudio-go-home/internal/amp"
	"dynaudio-go-home/internal/automation"
)

const defaultCommandTimeout = 10 * time.Second

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithCommandTimeout bounds each amplifier command issued through the API.
func WithCommandTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.commandTimeout = d
		}
	}
}

// Server is the HTTP API for the configured amplifiers.
type Server struct {
	devices        *amp.Manager
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	commandTimeout time.Duration
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server and starts its WebSocket hub.
func NewServer(devices *amp.Manager, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		devices:        devices,
		logger:         logger.With("component", "web"),
		mux:            http.NewServeMux(),
		commandTimeout: defaultCommandTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = devices.Events().OnAll(func(event amp.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleAPIGetDevice)
	s.mux.HandleFunc("POST /api/devices/{id}/power", s.handleAPIPower)
	s.mux.HandleFunc("POST /api/devices/{id}/volume", s.handleAPIVolume)
	s.mux.HandleFunc("POST /api/devices/{id}/mute", s.handleAPIMute)
	s.mux.HandleFunc("POST /api/devices/{id}/source", s.handleAPISource)
	s.mux.HandleFunc("POST /api/devices/{id}/zone", s.handleAPIZone)
	s.mux.HandleFunc("POST /api/devices/{id}/poll", s.handleAPIPoll)
	s.mux.HandleFunc("GET /api/sources", s.handleAPIListSources)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket endpoint is left open: browsers cannot set custom
	// headers on an upgrade request. Origin checks still apply there.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
