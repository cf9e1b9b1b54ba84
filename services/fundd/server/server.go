package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"traderchain/core"
	"traderchain/crypto"
	"traderchain/gateway/middleware"
	nativecommon "traderchain/native/common"
	"traderchain/native/fund"
	"traderchain/observability"
	"traderchain/services/fundd/storage"
)

const maxBodyBytes = 1 << 20

// AccountHeader names the caller when bearer auth is disabled for local
// development.
const AccountHeader = "X-Account"

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine         *fund.Engine
	Backend        *core.LocalBackend
	Journal        *storage.Journal
	Hub            *Hub
	Pauses         *nativecommon.Pauses
	Auth           middleware.AuthConfig
	RateLimits     map[string]middleware.RateLimit
	ExportDir      string
	Logger         *slog.Logger
	LogRequests    bool
	AllowedOrigins []string
}

// Server exposes the fund engine over HTTP.
type Server struct {
	engine         *fund.Engine
	backend        *core.LocalBackend
	journal        *storage.Journal
	hub            *Hub
	pauses         *nativecommon.Pauses
	auth           *middleware.Authenticator
	authEnabled    bool
	limiter        *middleware.RateLimiter
	obs            *middleware.Observability
	metrics        *observability.FundMetrics
	exportDir      string
	logger         *slog.Logger
	originPatterns []string

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("fundd server: engine required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("fundd server: backend required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	pauses := cfg.Pauses
	if pauses == nil {
		pauses = nativecommon.NewPauses()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := &Server{
		engine:         cfg.Engine,
		backend:        cfg.Backend,
		journal:        cfg.Journal,
		hub:            hub,
		pauses:         pauses,
		auth:           middleware.NewAuthenticator(cfg.Auth, logger),
		authEnabled:    cfg.Auth.Enabled,
		limiter:        middleware.NewRateLimiter(cfg.RateLimits, logger),
		obs:            middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "fundd", Module: "fund", LogRequests: cfg.LogRequests, Enabled: true}, logger),
		metrics:        observability.Funds(),
		exportDir:      cfg.ExportDir,
		logger:         logger,
		originPatterns: origins,
	}
	srv.router = srv.buildRouter(origins)
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub the engine should emit into.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) buildRouter(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: origins}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())

	authed := s.auth.Middleware
	read := func(route string) func(http.Handler) http.Handler {
		return chain(s.obs.Middleware(route), authed(), s.limiter.Middleware("read"))
	}
	write := func(route string, scopes ...string) func(http.Handler) http.Handler {
		return chain(s.obs.Middleware(route), authed(scopes...), s.limiter.Middleware("write"))
	}

	r.Route("/v1", func(api chi.Router) {
		api.With(read("events")).Get("/events", s.handleEvents)
		api.With(read("assets")).Get("/assets", s.handleAssets)
		api.With(read("route")).Get("/route", s.handleRoute)
		api.With(read("price")).Get("/price", s.handlePrice)
		api.With(read("balance")).Get("/accounts/{addr}/balances/{asset}", s.handleBalance)

		api.With(read("list_funds")).Get("/funds", s.handleListFunds)
		api.With(write("create_fund", middleware.ScopeTrade)).Post("/funds", s.handleCreateFund)
		api.Route("/funds/{id}", func(fr chi.Router) {
			fr.With(read("get_fund")).Get("/", s.handleGetFund)
			fr.With(read("holding")).Get("/holdings/{asset}", s.handleHolding)
			fr.With(read("investor")).Get("/investors/{addr}", s.handleInvestor)
			fr.With(read("history")).Get("/history", s.handleHistory)
			fr.With(read("nav_history")).Get("/nav", s.handleNAVHistory)
			fr.With(write("buy_shares", middleware.ScopeInvest)).Post("/buy", s.handleBuy)
			fr.With(write("sell_shares", middleware.ScopeInvest)).Post("/sell", s.handleSell)
			fr.With(write("place_order", middleware.ScopeTrade)).Post("/orders", s.handleOrder)
			fr.With(write("reconcile", middleware.ScopeAdmin)).Post("/reconcile", s.handleReconcile)
			fr.With(write("export", middleware.ScopeAdmin)).Post("/export", s.handleExport)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.With(write("admin_credit", middleware.ScopeAdmin)).Post("/credit", s.handleCredit)
			admin.With(write("admin_pool", middleware.ScopeAdmin)).Post("/pools", s.handleCreatePool)
			admin.With(write("admin_pause", middleware.ScopeAdmin)).Post("/pause", s.handlePause)
		})
	})

	return otelhttp.NewHandler(r, "fundd")
}

func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller resolves the acting account: the token subject, or the
// AccountHeader when bearer auth is disabled.
func (s *Server) caller(r *http.Request) (crypto.Address, error) {
	if subject, ok := middleware.Subject(r.Context()); ok {
		return subject, nil
	}
	if s.authEnabled {
		return crypto.Address{}, errors.New("authentication required")
	}
	raw := strings.TrimSpace(r.Header.Get(AccountHeader))
	if raw == "" {
		return crypto.Address{}, fmt.Errorf("%s header required", AccountHeader)
	}
	return crypto.DecodeAddress(raw)
}

func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, err := s.caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func fundIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) requireFundID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := fundIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid fund id")
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// observe records the engine call's outcome and latency.
func (s *Server) observe(operation string, start time.Time, err error) {
	s.metrics.Observe(operation, time.Since(start), err)
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("fund request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
