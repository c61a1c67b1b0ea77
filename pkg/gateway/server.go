package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nexus/internal/observability"
	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/agent"
	"github.com/rs/zerolog"
)

// Server is the HTTP front of the agent engine.
type Server struct {
	host        string
	port        int
	readTimeout time.Duration
	engine      *agent.Engine
	limiter     *ClientRateLimiter
	upgrader    websocket.Upgrader
	logger      zerolog.Logger

	server   *http.Server
	listener net.Listener
	handler  http.Handler

	// stopCtx ends open event streams when the server stops.
	stopCtx        context.Context
	stop           context.CancelFunc
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	sweepWG        sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int // 0 picks a free port
	ReadTimeout time.Duration
	Engine      *agent.Engine
	// RequestsPerSecond and Burst bound each client; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Logger            zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("agent engine is required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	observability.EnsureRegistered()

	stopCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		readTimeout: cfg.ReadTimeout,
		engine:      cfg.Engine,
		limiter:     NewClientRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		stopCtx:     stopCtx,
		stop:        stop,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/agent/run", s.limit("run", s.handleRun))
	mux.Handle("GET /api/agent/status/{id}", s.limit("status", s.handleStatus))
	mux.Handle("POST /api/agent/cancel/{id}", s.limit("cancel", s.handleCancel))
	mux.Handle("GET /api/agent/stream/{id}", s.limit("stream", s.handleStream))
	mux.Handle("GET /api/agent/ws/{id}", s.limit("ws", s.handleWebSocket))
	mux.Handle("GET /api/tools", s.limit("tools", s.handleTools))
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.logRequests(mux)
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Limiter exposes the per-client rate limiter so limits can be updated live.
func (s *Server) Limiter() *ClientRateLimiter {
	return s.limiter
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.readTimeout,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	if s.limiter.Enabled() {
		s.sweepWG.Add(1)
		go s.sweepLimiter()
	}
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop rejects new requests, ends open streams and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.stop()
	s.sweepWG.Wait()

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) sweepLimiter() {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCtx.Done():
			return
		case <-ticker.C:
			remaining := s.limiter.Sweep()
			s.logger.Debug().Int("clients", remaining).Msg("Swept idle rate limiters")
		}
	}
}

// limit applies the per-client rate limit and the shutdown gate.
func (s *Server) limit(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shuttingDown() {
			s.writeError(w, r, http.StatusServiceUnavailable, "server is shutting down", "")
			return
		}
		client := clientKey(r)
		if !s.limiter.Allow(client) {
			observability.RecordRateLimitReject(route)
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}
		next(w, r.WithContext(withClientID(r.Context(), client)))
	})
}

// logRequests attaches a trace id to every request and logs its outcome.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		ctx := tracing.WithTraceID(r.Context(), traceID)
		ctx = tracing.WithRequestID(ctx, tracing.NewTraceID())
		w.Header().Set("X-Trace-ID", traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client", clientKey(r)).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Gateway handled request")
	})
}

// statusRecorder captures the response status while keeping streaming and
// websocket upgrades working.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
