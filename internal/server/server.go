package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjcarver/chainbill/internal/balance"
	"github.com/rjcarver/chainbill/internal/billing"
	"github.com/rjcarver/chainbill/internal/handler"
	"github.com/rjcarver/chainbill/internal/ledger"
	"github.com/rjcarver/chainbill/internal/middleware"
	"github.com/rjcarver/chainbill/internal/store"
	"github.com/rjcarver/chainbill/internal/swap"
)

type Config struct {
	Swap               swap.Config
	Ledger             ledger.Config
	MonthlyAmountUSD   decimal.Decimal
	LicenseDays        int
	DefaultOriginAsset string
	SweepTokenHash     string
	EVMRPCURL          string
	NEARRPCURL         string
}

type Server struct {
	db          *sql.DB
	store       *store.SubscriptionStore
	sweeper     *billing.Sweeper
	subH        *handler.SubscriptionHandler
	sweepH      *handler.SweepHandler
	balanceH    *handler.BalanceHandler
	cfg         Config
	logger      *slog.Logger
	rateLimiter *middleware.RateLimiter
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	subStore := store.NewSubscriptionStore(db)

	swapClient := swap.NewClient(cfg.Swap, logger.With("component", "swap"))
	ledgerClient := ledger.NewClient(cfg.Ledger)

	sweeper := billing.NewSweeper(subStore, swapClient, ledgerClient, cfg.LicenseDays, logger.With("component", "sweep"))

	subH := handler.NewSubscriptionHandler(subStore, swapClient, swapClient, ledgerClient, handler.Config{
		MonthlyAmountUSD:   cfg.MonthlyAmountUSD,
		LicenseDays:        cfg.LicenseDays,
		DefaultOriginAsset: cfg.DefaultOriginAsset,
	}, logger.With("component", "subscription"))

	providers := make(map[string]balance.Provider)
	if cfg.EVMRPCURL != "" {
		providers["eth"] = balance.NewEVMProvider(cfg.EVMRPCURL)
	}
	if cfg.NEARRPCURL != "" {
		providers["near"] = balance.NewNEARProvider(cfg.NEARRPCURL)
	}

	return &Server{
		db:          db,
		store:       subStore,
		sweeper:     sweeper,
		subH:        subH,
		sweepH:      handler.NewSweepHandler(sweeper, logger.With("component", "sweep")),
		balanceH:    handler.NewBalanceHandler(providers),
		cfg:         cfg,
		logger:      logger,
		rateLimiter: middleware.NewRateLimiter(),
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	mux.HandleFunc("POST /api/subscribe", s.rateLimitedHandler(s.subH.Subscribe))
	mux.HandleFunc("POST /api/confirm", s.rateLimitedHandler(s.subH.Confirm))
	mux.HandleFunc("GET /api/status", s.subH.Status)
	mux.HandleFunc("POST /api/cancel", s.rateLimitedHandler(s.subH.Cancel))
	mux.HandleFunc("POST /api/link", s.rateLimitedHandler(s.subH.Link))
	mux.HandleFunc("GET /api/balance", s.balanceH.Get)

	// Billing trigger, fired by the external timer.
	authMw := middleware.RequireToken(s.cfg.SweepTokenHash)
	mux.Handle("POST /internal/sweep", authMw(http.HandlerFunc(s.sweepH.Run)))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
