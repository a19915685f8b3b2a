// Package rpc exposes the lending node over JSON-RPC 2.0, a websocket event
// stream and a gRPC mirror of the same method table.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"

	"p2plend/core"
	"p2plend/crypto"
	"p2plend/observability"
	"p2plend/rpc/middleware"
)

const (
	defaultMaxBodyBytes      = 1 << 20 // 1 MiB
	defaultReadHeaderTimeout = 10 * time.Second
	defaultOperatorScope     = "operator"
)

// ServerConfig configures the transports.
type ServerConfig struct {
	MaxConnections    int
	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
	TLSCertFile       string
	TLSKeyFile        string

	EnvelopeTTL    time.Duration
	ReplayCapacity int

	RateLimit middleware.RateLimit
	Auth      middleware.AuthConfig
	CORS      middleware.CORSConfig
	// OperatorScope is the token scope required by operator methods.
	OperatorScope string
	// Operator is the account operator methods act as (token minter and
	// feed admin).
	Operator crypto.Address
	// Oracle is the feed used when an oracle method names none.
	Oracle      crypto.Address
	LogRequests bool
}

// Server routes requests onto the node facade.
type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	methods map[string]method
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	replay  *replayCache
	nowFn   func() time.Time
	handler http.Handler

	serverMu   sync.Mutex
	httpServer *http.Server
	grpcServer *grpc.Server
}

func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, errors.New("rpc: node required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.EnvelopeTTL <= 0 {
		cfg.EnvelopeTTL = defaultEnvelopeTTL
	}
	if cfg.OperatorScope == "" {
		cfg.OperatorScope = defaultOperatorScope
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return nil, errors.New("rpc: operator auth enabled without a secret")
	}
	logger = logger.With(slog.String("component", "rpc"))
	s := &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		methods: buildMethods(node, cfg.Oracle),
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, logger),
		obs: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "p2plend-rpc",
			LogRequests: cfg.LogRequests,
		}, nil, logger),
		replay: newReplayCache(cfg.EnvelopeTTL+2*envelopeClockSkew, cfg.ReplayCapacity),
		nowFn:  time.Now,
	}
	s.limiter.OnReject(func(string) {
		observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
	})
	s.handler = otelhttp.NewHandler(s.routes(), "p2plend-rpc")
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(s.cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.obs.Middleware("events")).Get("/ws/events", s.handleEvents)
	r.Group(func(rr chi.Router) {
		rr.Use(s.limiter.Middleware())
		rr.Use(s.obs.Middleware("rpc"))
		rr.Post("/", s.handle)
		rr.Post("/rpc", s.handle)
	})
	return r
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Methods lists the exposed JSON-RPC method names.
func (s *Server) Methods() []string { return MethodNames(s.methods) }

// Serve accepts HTTP connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	s.logger.Info("json-rpc server listening", slog.String("addr", l.Addr().String()))
	var err error
	if s.cfg.TLSCertFile != "" {
		err = srv.ServeTLS(l, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = srv.Serve(l)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops both transports, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv, gs := s.httpServer, s.grpcServer
	s.serverMu.Unlock()
	if gs != nil {
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			gs.Stop()
		}
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Invoke runs one method call independently of the transport. raw holds the
// method params, or the signed envelope for state-changing calls.
func (s *Server) Invoke(ctx context.Context, name string, raw json.RawMessage, bearer string) (interface{}, error) {
	if !strings.HasPrefix(name, MethodPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	m, ok := s.methods[strings.TrimPrefix(name, MethodPrefix)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	switch m.kind {
	case kindSigned:
		var env Envelope
		if err := decodeParams(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		caller, payload, err := env.verify(name, s.nowFn(), s.cfg.EnvelopeTTL)
		if err != nil {
			return nil, err
		}
		if s.replay.Seen(payload) {
			return nil, ErrReplayedEnvelope
		}
		result, err := m.call(ctx, caller, env.Params)
		if errors.Is(err, core.ErrQuotaExceeded) {
			s.replay.Forget(payload)
		}
		return result, err
	case kindOperator:
		subject, _, err := s.auth.VerifyToken(bearer, s.cfg.OperatorScope)
		if err != nil {
			return nil, err
		}
		if s.cfg.Operator.IsZero() {
			return nil, fmt.Errorf("%w: operator account not configured", middleware.ErrAuthDisabled)
		}
		s.logger.Info("operator call", slog.String("method", name), slog.String("subject", subject))
		return m.call(ctx, s.cfg.Operator, raw)
	default:
		return m.call(ctx, crypto.Address{}, raw)
	}
}

// handle is the JSON-RPC entry point.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: "failed to read request body"})
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(bytes.TrimSpace(body), &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON", Data: err.Error()})
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "jsonrpc 2.0 request with a method required"})
		return
	}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidParams, Message: "expected at most one parameter object"})
		return
	}
	var raw json.RawMessage
	if len(req.Params) == 1 {
		raw = req.Params[0]
	}

	result, err := s.Invoke(r.Context(), req.Method, raw, middleware.ExtractBearer(r.Header.Get("Authorization")))
	status := http.StatusOK
	if err != nil {
		var rpcErr *RPCError
		status, rpcErr = classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("rpc call failed",
				slog.String("method", req.Method),
				slog.String("request_id", middleware.RequestIDFrom(r.Context())),
				slog.String("error", err.Error()))
		}
		writeError(w, status, req.ID, rpcErr)
	} else {
		writeResult(w, req.ID, result)
	}
	observability.ModuleMetrics().Observe("rpc", req.Method, status, time.Since(start))
}
