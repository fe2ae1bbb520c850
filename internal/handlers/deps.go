package handlers

import (
	"context"

	"fxbilling/internal/cache"
	"fxbilling/internal/models"
	"fxbilling/internal/services"
	"fxbilling/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type AccountReader interface {
	GetByUser(ctx context.Context, userID string) ([]models.TradeAccount, error)
	GetByID(ctx context.Context, id string) (models.TradeAccount, error)
}

type PaymentReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error)
}

type PackageStore interface {
	List(ctx context.Context) ([]models.Package, error)
	Create(ctx context.Context, tx store.Execer, pkg models.Package) error
}

type ReferralReader interface {
	GetCodeByUser(ctx context.Context, userID string) (models.ReferralCode, error)
	CreditBalance(ctx context.Context, userID string) (int64, error)
}

type TradeReader interface {
	ListByAccount(ctx context.Context, accountID string, status models.PositionStatus, limit int) ([]models.Trade, error)
	Stats(ctx context.Context, accountID string) (store.TradeStats, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

type AuditReader interface {
	List(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

type HeartbeatCache interface {
	ReadHeartbeatsBatch(ctx context.Context, mt5AccountIDs []string) map[string]*cache.Heartbeat
}

type BotService interface {
	Heartbeat(ctx context.Context, req services.HeartbeatRequest) (services.HeartbeatResponse, error)
	Config(ctx context.Context, mt5AccountID string) (services.AccountConfig, error)
	RecordOrders(ctx context.Context, mt5AccountID string, trades []models.Trade) (services.OrderResult, error)
	ReportDDBlock(ctx context.Context, mt5AccountID, reason string) error
}

type PaymentService interface {
	Submit(ctx context.Context, req services.SubmitRequest) (models.Payment, error)
	Review(ctx context.Context, req services.ReviewRequest) error
}

type AccountService interface {
	CreateAccount(ctx context.Context, req services.CreateAccountRequest) (models.TradeAccount, error)
	UpdateBotConfig(ctx context.Context, req services.BotConfigUpdate) error
	ClearDDBlock(ctx context.Context, adminID, accountID string) error
	ExpireOverdueSubscriptions(ctx context.Context) ([]string, error)
	ListByUser(ctx context.Context, userID string) ([]models.TradeAccount, error)
	Get(ctx context.Context, userID, accountID string) (models.TradeAccount, error)
}

type StrategyService interface {
	UpdateParameters(ctx context.Context, req services.StrategyUpdate) error
	List(ctx context.Context) ([]models.Strategy, error)
}
