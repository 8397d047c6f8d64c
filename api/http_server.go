package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// HTTPConfig configures the REST and JSON-RPC listener.
type HTTPConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadHeaderTimeout bounds how long a client may take to send headers
	ReadHeaderTimeout time.Duration

	// AccountRateLimit is the sustained account creations per second per client; 0 disables
	AccountRateLimit float64

	// AccountRateBurst is the number of account creations a client may issue at once
	AccountRateBurst int
}

// DefaultHTTPConfig returns an HTTPConfig with sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Address:           ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		AccountRateLimit:  1,
		AccountRateBurst:  5,
	}
}

// HTTPServer serves the REST routes, JSON-RPC endpoint, health and metrics.
type HTTPServer struct {
	gw      Gateway
	pool    PoolStatser
	metrics *Metrics
	limiter *RateLimiter
	rpc     *JSONRPCHandler
	log     *zap.Logger
	cfg     HTTPConfig
	router  *mux.Router
	started time.Time

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewHTTPServer builds the router. metrics and pool may be nil.
func NewHTTPServer(gw Gateway, pool PoolStatser, metrics *Metrics, cfg HTTPConfig, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := NewRateLimiter(cfg.AccountRateLimit, cfg.AccountRateBurst, 0)

	s := &HTTPServer{
		gw:      gw,
		pool:    pool,
		metrics: metrics,
		limiter: limiter,
		rpc:     NewJSONRPCHandler(gw, limiter, metrics, logger),
		log:     logger,
		cfg:     cfg,
		started: time.Now(),
	}
	s.router = s.routes()
	return s
}

const v1Prefix = "/stellar/v1"

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observe)
	// Unmatched methods bypass router middleware, so observe is applied here.
	r.MethodNotAllowedHandler = s.observe(http.HandlerFunc(methodNotAllowed))

	// v1 routes stay on the root router: a subrouter turns a method
	// mismatch into 404.
	r.HandleFunc(v1Prefix+"/ledger", s.handleLedger).Methods(http.MethodGet)
	r.HandleFunc(v1Prefix+"/account", s.handleCreateAccount).Methods(http.MethodPost)
	r.HandleFunc(v1Prefix+"/account/source", s.handleSourceAccount).Methods(http.MethodGet)
	r.HandleFunc(v1Prefix+"/transaction/{hash}", s.handleTransaction).Methods(http.MethodGet)
	r.HandleFunc(v1Prefix+"/friendbot", s.handleFriendbot).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/rpc", s.rpc).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": r.Method + " not allowed on " + r.URL.Path,
	})
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler { return s.router }

// StartAsync listens on the configured address and serves in the background.
func (s *HTTPServer) StartAsync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return xerrors.New("http server is already running")
	}

	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return xerrors.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = lis
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	srv := s.srv
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server failed", zap.Error(err))
		}
	}()
	s.log.Info("http server listening", zap.String("address", lis.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the listener down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *HTTPServer) handleLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.gw.GetLatestLedger(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (s *HTTPServer) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(ClientKey(r), time.Now()) {
		if s.metrics != nil {
			s.metrics.RecordRateLimited("http")
		}
		w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter()))
		s.writeError(w, r, ErrRateLimited)
		return
	}

	created, err := s.gw.CreateAccount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *HTTPServer) handleSourceAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.gw.GetSourceAccount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) handleTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.gw.GetTransaction(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *HTTPServer) handleFriendbot(w http.ResponseWriter, r *http.Request) {
	url, err := s.gw.GetFriendbotURL(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FriendbotResponse{URL: url})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := health(s.pool, s.started)
	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := NewErrorBody(err)
	if body.Kind == KindInternal {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.log.Debug("request failed", zap.String("path", r.URL.Path), zap.String("kind", string(body.Kind)), zap.Error(err))
	}
	writeJSON(w, body.Kind.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// observe records the route template, method and status of every request.
func (s *HTTPServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(route, r.Method, strconv.Itoa(rec.code), elapsed)
		}
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.code),
			zap.Duration("elapsed", elapsed),
		)
	})
}
