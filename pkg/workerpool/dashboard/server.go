// Package dashboard exposes the pool's operational surface over HTTP:
// health probes, stats and dead-letter inspection, with optional JWT
// authentication and a WebSocket stream of live stats snapshots.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/savegress/taskpool/pkg/workerpool"
	"github.com/savegress/taskpool/pkg/workerpool/observability"
	"github.com/savegress/taskpool/pkg/workerpool/persistence"
)

const tokenTTL = 24 * time.Hour

// Config holds dashboard server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":9090".
	Addr string
	// JWTSecret signs API tokens. Empty disables auth on /api/v1.
	JWTSecret string
	// AdminPasswordHash is the bcrypt hash the token endpoint verifies
	// against. Empty disables the token endpoint.
	AdminPasswordHash string
	// AllowedOrigins for CORS and WebSocket upgrades. Defaults to "*".
	AllowedOrigins []string
	// StatsInterval is the WebSocket broadcast period. Defaults to 1s.
	StatsInterval time.Duration
}

// Server serves the ops API for one pool.
type Server struct {
	cfg    Config
	pool   *workerpool.Pool
	health *observability.HealthChecker
	dlq    *persistence.DeadLetterQueue

	hub        *Hub
	httpServer *http.Server
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a dashboard server. dlq may be nil.
func NewServer(cfg Config, pool *workerpool.Pool, health *observability.HealthChecker, dlq *persistence.DeadLetterQueue) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}

	s := &Server{
		cfg:    cfg,
		pool:   pool,
		health: health,
		dlq:    dlq,
		hub:    NewHub(),
		stopCh: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Probes are always unauthenticated; they exist for the orchestrator.
	r.Get("/livez", s.health.LivenessHandler())
	r.Get("/readyz", s.health.ReadinessHandler())
	r.Get("/startupz", s.health.StartupHandler())
	r.Get("/healthz", s.health.ReportHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/token", s.issueToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/stats", s.getStats)
			r.Get("/breaker", s.getBreaker)
			r.Get("/dlq", s.getDLQ)
		})
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	r.Get("/ws", s.hub.serveWS(upgrader))

	return r
}

// Start runs the hub, the stats broadcaster and the HTTP listener. Blocks
// until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.broadcastLoop()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// Shutdown stops the broadcaster, the hub and the HTTP server. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.hub.Stop()
	})
	return s.httpServer.Shutdown(ctx)
}

// broadcastLoop periodically snapshots the pool and pushes the snapshot to
// WebSocket clients and the health checker gauges.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			stats := s.pool.Stats()
			s.health.Update(stats.QueuedTasks, stats.ActiveWorkers)
			s.health.SyncCompletions(stats.CompletedTasks)

			msg, err := json.Marshal(statsMessage{
				Type:      "stats",
				Timestamp: time.Now(),
				Stats:     stats,
			})
			if err != nil {
				continue
			}
			s.hub.Broadcast(msg)
		}
	}
}

type statsMessage struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Stats     workerpool.Stats `json:"stats"`
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// issueToken exchanges the admin password for a signed JWT.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminPasswordHash == "" || s.cfg.JWTSecret == "" {
		writeError(w, http.StatusNotFound, "token auth is not configured")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

// requireAuth validates the bearer token when a JWT secret is configured.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

func (s *Server) getBreaker(w http.ResponseWriter, r *http.Request) {
	metrics, ok := s.pool.BreakerMetrics()
	if !ok {
		writeError(w, http.StatusNotFound, "no circuit breaker configured")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) getDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeError(w, http.StatusNotFound, "no dead letter queue configured")
		return
	}

	resp := struct {
		Size   int                `json:"size"`
		Oldest *persistence.Entry `json:"oldest,omitempty"`
	}{Size: s.dlq.Len()}

	if entry, err := s.dlq.Peek(r.Context()); err == nil {
		resp.Oldest = entry
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
