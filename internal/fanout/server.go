package fanout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/presence"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxClientMessage    = 4096
)

// PresenceTracker is the presence surface the websocket transport drives.
type PresenceTracker interface {
	Connect(agentID int64, connID string) presence.Snapshot
	Disconnect(agentID int64, connID string) presence.Snapshot
	Touch(agentID int64)
	Get(agentID int64) (presence.Snapshot, bool)
	Snapshot() map[int64]presence.Snapshot
}

// Server exposes the dashboard websocket and the presence endpoints.
type Server struct {
	cfg        config.RealtimeConfig
	hub        *Hub
	presence   PresenceTracker
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer creates the realtime HTTP server.
func NewServer(cfg config.RealtimeConfig, hub *Hub, tracker PresenceTracker) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		presence: tracker,
		log:      logger.Named("realtime"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.With(s.connectLimit()).Get("/ws", s.serveWS)
	r.Route("/v1/presence", func(r chi.Router) {
		r.Get("/", s.listPresence)
		r.Get("/{agentID}", s.getPresence)
	})
	return r
}

// connectLimit caps websocket upgrades per tenant per minute, falling back to
// the client IP when no tenant is given. A zero limit disables it.
func (s *Server) connectLimit() func(http.Handler) http.Handler {
	if s.cfg.ConnectRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(s.cfg.ConnectRateLimit, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := r.URL.Query().Get("tenant_id"); id != "" {
				return "tenant:" + id, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			s.log.Warn("Websocket connect rate limited", zap.String("tenant_id", r.URL.Query().Get("tenant_id")))
			utils.WriteJSONResponse(w, http.StatusTooManyRequests, map[string]string{"error": "too many connections"})
		}),
	)
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start serves until Shutdown. It returns nil once the server is closed.
func (s *Server) Start() error {
	s.log.Info("Starting realtime server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("realtime server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) listPresence(w http.ResponseWriter, _ *http.Request) {
	snap := s.presence.Snapshot()
	out := make([]presence.Snapshot, 0, len(snap))
	for _, p := range snap {
		out = append(out, p)
	}
	utils.WriteJSONResponse(w, http.StatusOK, out)
}

func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	agentID, err := positiveInt(chi.URLParam(r, "agentID"))
	if err != nil {
		utils.WriteJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid agent id"})
		return
	}
	snap, ok := s.presence.Get(agentID)
	if !ok {
		utils.WriteJSONResponse(w, http.StatusNotFound, map[string]string{"error": "agent has no presence record"})
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, snap)
}

func positiveInt(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
