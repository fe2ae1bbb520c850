package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fxbilling/internal/config"
	"fxbilling/internal/db"
	"fxbilling/internal/middleware"
	"fxbilling/internal/websocket"
)

type Handler struct {
	cfg         config.Config
	txRunner    db.TxRunner
	users       UserStore
	accounts    AccountReader
	payments    PaymentReader
	packages    PackageStore
	referrals   ReferralReader
	trades      TradeReader
	admin       AdminStore
	audit       AuditReader
	botKeys     middleware.BotKeyStore
	heartbeats  HeartbeatCache
	botSvc      BotService
	paymentSvc  PaymentService
	accountSvc  AccountService
	strategySvc StrategyService
	hub         *websocket.Hub
}

func New(cfg config.Config, txRunner db.TxRunner, users UserStore, accounts AccountReader, payments PaymentReader, packages PackageStore, referrals ReferralReader, trades TradeReader, admin AdminStore, audit AuditReader, botKeys middleware.BotKeyStore, heartbeats HeartbeatCache, botSvc BotService, paymentSvc PaymentService, accountSvc AccountService, strategySvc StrategyService, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:         cfg,
		txRunner:    txRunner,
		users:       users,
		accounts:    accounts,
		payments:    payments,
		packages:    packages,
		referrals:   referrals,
		trades:      trades,
		admin:       admin,
		audit:       audit,
		botKeys:     botKeys,
		heartbeats:  heartbeats,
		botSvc:      botSvc,
		paymentSvc:  paymentSvc,
		accountSvc:  accountSvc,
		strategySvc: strategySvc,
		hub:         hub,
	}
}

func (h *Handler) Routes(logger *middleware.RequestLogger) http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(logger.Handler)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Bot fleet endpoints, master-key authenticated.
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.BotKey(h.botKeys, logger.Logger))
		r.Post("/heartbeat", h.BotHeartbeat)
		r.Get("/account/{mt5_id}/config", h.BotAccountConfig)
		r.Post("/orders", h.BotOrders)
		r.Post("/orders/batch", h.BotOrdersBatch)
		r.Post("/dd-block", h.BotDDBlock)
	})

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/packages", h.ListPackages)
		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts", h.CreateAccount)
		r.Get("/accounts/{id}", h.GetAccount)
		r.Put("/accounts/{id}/bot-config", h.UpdateBotConfig)
		r.Get("/accounts/{id}/trades", h.ListAccountTrades)
		r.Get("/payments", h.ListPayments)
		r.Post("/payments", h.SubmitPayment)
		r.Get("/referral", h.ReferralSummary)
		r.Get("/dashboard", h.Dashboard)
	})

	router.Get("/ws/status", h.WSStatus)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleReviewPayments)).Post("/payments/{id}/review", h.ReviewPayment)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleReviewPayments)).Post("/packages", h.CreatePackage)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageAccounts)).Post("/accounts/{id}/dd-unblock", h.ClearDDBlock)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageAccounts)).Post("/subscriptions/expire", h.ExpireSubscriptions)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageStrategies)).Put("/strategies/{id}", h.UpdateStrategy)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageStrategies)).Get("/strategies", h.ListStrategies)
		r.With(middleware.RequireAdmin(h.admin, "")).Get("/audit", h.ListAuditLogs)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
