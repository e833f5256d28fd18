package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendchain/config"
	"lendchain/core"
	"lendchain/crypto"
	"lendchain/observability"
	"lendchain/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeForbidden      = -32003
	codeNotFound       = -32004
	codeModulePaused   = -32005
	codeNotConfigured  = -32006
	codeConflict       = -32009
	codeRateLimited    = -32020
)

// ServerConfig carries the listener-independent settings of the RPC server.
type ServerConfig struct {
	RPC         config.RPC
	NetworkName string
	Logger      *slog.Logger
	Now         func() time.Time
	// Nonces persists replay-protection state. Nil keeps nonces in memory only.
	Nonces NoncePersistence
}

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	tracer  trace.Tracer
	methods map[string]method
	handler http.Handler
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		auth:    NewAuthenticator(cfg.RPC.TimestampSkew(), cfg.RPC.NonceTTL(), cfg.RPC.NonceCapacity, cfg.Now, cfg.Nonces),
		limiter: NewRateLimiter(RateLimit{RequestsPerMinute: cfg.RPC.RateLimitPerMinute, Burst: cfg.RPC.RateLimitBurst}, cfg.Now),
		tracer:  otel.Tracer("lendchain/rpc"),
	}
	s.methods = s.registerMethods()

	r := chi.NewRouter()
	r.Use(requestID(logger))
	r.Use(CORS(cfg.RPC.AllowedOrigins))
	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/", s.handle)
		r.Get("/ws/events", s.handleEventsWS)
	})
	s.handler = otelhttp.NewHandler(r, "lendchain.rpc")
	return s
}

// Handler returns the HTTP handler serving JSON-RPC, health and the event
// stream.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HydrateNonces loads nonces persisted by a previous run into the replay
// cache.
func (s *Server) HydrateNonces(ctx context.Context) error {
	return s.auth.HydrateNonces(ctx, s.cfg.Now().Add(-s.cfg.RPC.NonceTTL()))
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.RPC.ReadTimeout(),
		WriteTimeout:      s.cfg.RPC.WriteTimeout(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"network": s.cfg.NetworkName,
		"events":  s.node.Events().Latest(),
	})
}

// handle decodes the JSON-RPC envelope, authenticates the caller and
// dispatches to the method table.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := s.cfg.Now()
	m, ok := s.methods[req.Method]
	if !ok {
		observability.RPC().Observe(req.Method, codeMethodNotFound, 0)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
	))
	defer span.End()

	caller, signed, authErr := s.auth.Authenticate(ctx, r, req.Method, body)
	if authErr != nil {
		if errors.Is(authErr, ErrNonceReused) {
			observability.RPC().RecordThrottle("replay")
		}
		s.logger.Debug("request authentication failed",
			slog.String("method", req.Method),
			slog.Any("error", authErr),
			logging.MaskField("signature", r.Header.Get(HeaderSignature)))
		if errors.Is(authErr, ErrNonceCapacity) {
			observability.RPC().RecordThrottle("nonce_capacity")
			s.fail(w, span, req, http.StatusTooManyRequests, &RPCError{Code: codeRateLimited, Message: "too many signed requests in flight", Data: authErr.Error()}, start)
			return
		}
		s.fail(w, span, req, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "request authentication failed", Data: authErr.Error()}, start)
		return
	}
	if !signed && !m.public {
		s.fail(w, span, req, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "signed request required", Data: req.Method}, start)
		return
	}
	if signed {
		span.SetAttributes(attribute.String("rpc.caller", crypto.FormatIdentity(caller)))
	}

	result, err := m.handler(caller, req.Params)
	if err != nil {
		status, rpcErr := toRPCError(err)
		s.fail(w, span, req, status, rpcErr, start)
		return
	}
	observability.RPC().Observe(req.Method, 0, s.cfg.Now().Sub(start))
	writeResult(w, req.ID, result)
}

func (s *Server) fail(w http.ResponseWriter, span trace.Span, req *RPCRequest, status int, rpcErr *RPCError, start time.Time) {
	span.SetStatus(codes.Error, rpcErr.Message)
	span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
	observability.RPC().Observe(req.Method, rpcErr.Code, s.cfg.Now().Sub(start))
	if status >= http.StatusInternalServerError {
		s.logger.Error("json-rpc request failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.Any("error", rpcErr.Data))
	}
	writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}
