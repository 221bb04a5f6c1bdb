// Package gateway implements the Session Gateway: a WebSocket transport
// wrapping gorilla/websocket, dispatching frames through a MethodRouter
// keyed by the wire protocol's frame types, plus the HTTP surface (health
// checks, voice SSE, bearer-authed REST CRUD) served from one
// http.ServeMux.
package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itellico/joi-gateway/internal/agent"
	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/internal/config"
	"github.com/itellico/joi-gateway/internal/knowledge"
	"github.com/itellico/joi-gateway/internal/memory"
	"github.com/itellico/joi-gateway/internal/review"
	"github.com/itellico/joi-gateway/internal/router"
	"github.com/itellico/joi-gateway/internal/scheduler"
	"github.com/itellico/joi-gateway/internal/store"
	"github.com/itellico/joi-gateway/internal/tools"
	"github.com/itellico/joi-gateway/pkg/protocol"
)

// Server is the Session Gateway: it owns the WebSocket upgrade path, the
// HTTP API surface, and every connected Client.
type Server struct {
	cfg         *config.Config
	eventPub    bus.EventPublisher
	runtime     *agent.Runtime
	stores      *store.Stores
	modelRouter *router.Router

	review       *review.Service
	memorySvc    *memory.Service
	knowledgeSvc *knowledge.Service
	scheduler    *scheduler.Scheduler
	toolsReg     *tools.Registry
	policy       *tools.PolicyEngine
	pingDB       func(ctx context.Context) error

	upgrader websocket.Upgrader
	limiter  *RateLimiter
	turns    turnLocks
	router   *MethodRouter

	clients map[string]*Client
	mu      sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// Option configures optional Server dependencies not every deployment has
// (standalone mode has no Review/Memory/Knowledge/Cron store, for example).
type Option func(*Server)

func WithReview(r *review.Service) Option                  { return func(s *Server) { s.review = r } }
func WithMemory(m *memory.Service) Option                  { return func(s *Server) { s.memorySvc = m } }
func WithKnowledge(k *knowledge.Service) Option             { return func(s *Server) { s.knowledgeSvc = k } }
func WithScheduler(sc *scheduler.Scheduler) Option          { return func(s *Server) { s.scheduler = sc } }
func WithTools(t *tools.Registry) Option                   { return func(s *Server) { s.toolsReg = t } }
func WithPolicyEngine(p *tools.PolicyEngine) Option         { return func(s *Server) { s.policy = p } }
func WithDBPing(fn func(ctx context.Context) error) Option { return func(s *Server) { s.pingDB = fn } }

// NewServer creates the Session Gateway server.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, rt *agent.Runtime, stores *store.Stores, modelRouter *router.Router, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		eventPub:    eventPub,
		runtime:     rt,
		stores:      stores,
		modelRouter: modelRouter,
		clients:     make(map[string]*Client),
	}
	for _, o := range opts {
		o(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.limiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)
	s.router = NewMethodRouter(s)
	return s
}

// Router exposes the method dispatch table so cmd/ wiring can register
// additional handlers without this package needing to know about them.
func (s *Server) Router() *MethodRouter { return s.router }

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients: CLI, SDKs, ingress adapters
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: origin rejected", "origin", origin)
	return false
}

// authenticate checks the bearer token carried in the Authorization header
// or a ?token= query param (for browser WebSocket clients that can't set
// headers). AllowOpen bypasses auth entirely for local dev.
func (s *Server) authenticate(r *http.Request) bool {
	if s.cfg.Auth.AllowOpen {
		return true
	}
	want := s.cfg.Auth.Token
	if want == "" {
		want = s.cfg.Gateway.Token
	}
	if want == "" {
		return true // no token configured: auth is a no-op, matching teacher's backward-compat default
	}
	got := bearerToken(r)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// BuildMux assembles the HTTP surface: the WebSocket endpoint, health
// checks, and bearer-authed REST routes over the same store interfaces the
// MethodRouter uses — no separate business logic path.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/db", s.handleHealthDB)

	mux.Handle("/api/voice/chat", s.requireAuth(http.HandlerFunc(s.handleVoiceChat)))
	mux.Handle("/api/review", s.requireAuth(http.HandlerFunc(s.handleAPIReview)))
	mux.Handle("/api/memory", s.requireAuth(http.HandlerFunc(s.handleAPIMemory)))
	mux.Handle("/api/knowledge", s.requireAuth(http.HandlerFunc(s.handleAPIKnowledge)))
	mux.Handle("/api/cron", s.requireAuth(http.HandlerFunc(s.handleAPICron)))
	mux.Handle("/api/agents", s.requireAuth(http.HandlerFunc(s.handleAPIAgents)))

	s.mux = mux
	return mux
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP/WebSocket traffic and blocks until ctx is
// cancelled, gracefully draining connections on shutdown.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	if s.pingDB == nil {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"unknown","reason":"standalone mode"}`)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.pingDB(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"error","error":%q}`, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// BroadcastEvent pushes event to every connected client.
func (s *Server) BroadcastEvent(event bus.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if s.eventPub != nil {
		s.eventPub.Subscribe(c.id, func(event bus.Event) {
			if strings.HasPrefix(event.Name, "cache.") {
				return
			}
			c.SendEvent(event)
		})
	}
	slog.Info("gateway: client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	if s.eventPub != nil {
		s.eventPub.Unsubscribe(c.id)
	}
	if s.limiter != nil {
		s.limiter.Forget(c.id)
	}
	slog.Info("gateway: client disconnected", "id", c.id)
}

// StartTestServer binds a random local port for integration tests and
// returns its address plus a blocking start function.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("gateway: listen: " + err.Error())
	}
	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
