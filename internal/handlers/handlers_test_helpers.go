package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"fxbilling/internal/auth"
	"fxbilling/internal/cache"
	"fxbilling/internal/config"
	"fxbilling/internal/middleware"
	"fxbilling/internal/models"
	"fxbilling/internal/services"
	"fxbilling/internal/store"
	"fxbilling/internal/websocket"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{}, nil
	}
	return s.getByIDFn(ctx, userID)
}

type stubAccountReader struct {
	getByUserFn func(ctx context.Context, userID string) ([]models.TradeAccount, error)
	getByIDFn   func(ctx context.Context, id string) (models.TradeAccount, error)
}

func (s stubAccountReader) GetByUser(ctx context.Context, userID string) ([]models.TradeAccount, error) {
	if s.getByUserFn == nil {
		return nil, nil
	}
	return s.getByUserFn(ctx, userID)
}

func (s stubAccountReader) GetByID(ctx context.Context, id string) (models.TradeAccount, error) {
	if s.getByIDFn == nil {
		return models.TradeAccount{}, nil
	}
	return s.getByIDFn(ctx, id)
}

type stubPaymentReader struct {
	listByUserFn func(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error)
}

func (s stubPaymentReader) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, limit, offset)
}

type stubPackageStore struct {
	createFn func(ctx context.Context, tx store.Execer, pkg models.Package) error
	listFn   func(ctx context.Context) ([]models.Package, error)
}

func (s stubPackageStore) List(ctx context.Context) ([]models.Package, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

func (s stubPackageStore) Create(ctx context.Context, tx store.Execer, pkg models.Package) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, pkg)
}

type stubReferralReader struct {
	getCodeByUserFn func(ctx context.Context, userID string) (models.ReferralCode, error)
	creditBalanceFn func(ctx context.Context, userID string) (int64, error)
}

func (s stubReferralReader) GetCodeByUser(ctx context.Context, userID string) (models.ReferralCode, error) {
	if s.getCodeByUserFn == nil {
		return models.ReferralCode{}, nil
	}
	return s.getCodeByUserFn(ctx, userID)
}

func (s stubReferralReader) CreditBalance(ctx context.Context, userID string) (int64, error) {
	if s.creditBalanceFn == nil {
		return 0, nil
	}
	return s.creditBalanceFn(ctx, userID)
}

type stubTradeReader struct {
	listByAccountFn func(ctx context.Context, accountID string, status models.PositionStatus, limit int) ([]models.Trade, error)
	statsFn         func(ctx context.Context, accountID string) (store.TradeStats, error)
}

func (s stubTradeReader) ListByAccount(ctx context.Context, accountID string, status models.PositionStatus, limit int) ([]models.Trade, error) {
	if s.listByAccountFn == nil {
		return nil, nil
	}
	return s.listByAccountFn(ctx, accountID, status, limit)
}

func (s stubTradeReader) Stats(ctx context.Context, accountID string) (store.TradeStats, error) {
	if s.statsFn == nil {
		return store.TradeStats{}, nil
	}
	return s.statsFn(ctx, accountID)
}

type stubAdminStore struct {
	isAdminFn func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn func(ctx context.Context, userID, role string) (bool, error)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

type stubAuditReader struct {
	listFn func(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

func (s stubAuditReader) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubBotKeyStore struct {
	findActiveFn    func(ctx context.Context, key string) (models.BotAPIKey, error)
	touchLastUsedFn func(ctx context.Context, id string, at time.Time) error
}

func (s stubBotKeyStore) FindActive(ctx context.Context, key string) (models.BotAPIKey, error) {
	if s.findActiveFn == nil {
		return models.BotAPIKey{ID: "key-1", Name: "fleet"}, nil
	}
	return s.findActiveFn(ctx, key)
}

func (s stubBotKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if s.touchLastUsedFn == nil {
		return nil
	}
	return s.touchLastUsedFn(ctx, id, at)
}

type stubHeartbeatCache struct {
	readBatchFn func(ctx context.Context, mt5AccountIDs []string) map[string]*cache.Heartbeat
}

func (s stubHeartbeatCache) ReadHeartbeatsBatch(ctx context.Context, mt5AccountIDs []string) map[string]*cache.Heartbeat {
	if s.readBatchFn == nil {
		result := make(map[string]*cache.Heartbeat, len(mt5AccountIDs))
		for _, id := range mt5AccountIDs {
			result[id] = nil
		}
		return result
	}
	return s.readBatchFn(ctx, mt5AccountIDs)
}

type stubBotService struct {
	heartbeatFn     func(ctx context.Context, req services.HeartbeatRequest) (services.HeartbeatResponse, error)
	configFn        func(ctx context.Context, mt5AccountID string) (services.AccountConfig, error)
	recordOrdersFn  func(ctx context.Context, mt5AccountID string, trades []models.Trade) (services.OrderResult, error)
	reportDDBlockFn func(ctx context.Context, mt5AccountID, reason string) error
}

func (s stubBotService) Heartbeat(ctx context.Context, req services.HeartbeatRequest) (services.HeartbeatResponse, error) {
	if s.heartbeatFn == nil {
		return services.HeartbeatResponse{}, nil
	}
	return s.heartbeatFn(ctx, req)
}

func (s stubBotService) Config(ctx context.Context, mt5AccountID string) (services.AccountConfig, error) {
	if s.configFn == nil {
		return services.AccountConfig{}, nil
	}
	return s.configFn(ctx, mt5AccountID)
}

func (s stubBotService) RecordOrders(ctx context.Context, mt5AccountID string, trades []models.Trade) (services.OrderResult, error) {
	if s.recordOrdersFn == nil {
		return services.OrderResult{}, nil
	}
	return s.recordOrdersFn(ctx, mt5AccountID, trades)
}

func (s stubBotService) ReportDDBlock(ctx context.Context, mt5AccountID, reason string) error {
	if s.reportDDBlockFn == nil {
		return nil
	}
	return s.reportDDBlockFn(ctx, mt5AccountID, reason)
}

type stubPaymentService struct {
	submitFn func(ctx context.Context, req services.SubmitRequest) (models.Payment, error)
	reviewFn func(ctx context.Context, req services.ReviewRequest) error
}

func (s stubPaymentService) Submit(ctx context.Context, req services.SubmitRequest) (models.Payment, error) {
	if s.submitFn == nil {
		return models.Payment{}, nil
	}
	return s.submitFn(ctx, req)
}

func (s stubPaymentService) Review(ctx context.Context, req services.ReviewRequest) error {
	if s.reviewFn == nil {
		return nil
	}
	return s.reviewFn(ctx, req)
}

type stubAccountService struct {
	createAccountFn   func(ctx context.Context, req services.CreateAccountRequest) (models.TradeAccount, error)
	updateBotConfigFn func(ctx context.Context, req services.BotConfigUpdate) error
	clearDDBlockFn    func(ctx context.Context, adminID, accountID string) error
	expireFn          func(ctx context.Context) ([]string, error)
	listByUserFn      func(ctx context.Context, userID string) ([]models.TradeAccount, error)
	getFn             func(ctx context.Context, userID, accountID string) (models.TradeAccount, error)
}

func (s stubAccountService) CreateAccount(ctx context.Context, req services.CreateAccountRequest) (models.TradeAccount, error) {
	if s.createAccountFn == nil {
		return models.TradeAccount{}, nil
	}
	return s.createAccountFn(ctx, req)
}

func (s stubAccountService) UpdateBotConfig(ctx context.Context, req services.BotConfigUpdate) error {
	if s.updateBotConfigFn == nil {
		return nil
	}
	return s.updateBotConfigFn(ctx, req)
}

func (s stubAccountService) ClearDDBlock(ctx context.Context, adminID, accountID string) error {
	if s.clearDDBlockFn == nil {
		return nil
	}
	return s.clearDDBlockFn(ctx, adminID, accountID)
}

func (s stubAccountService) ExpireOverdueSubscriptions(ctx context.Context) ([]string, error) {
	if s.expireFn == nil {
		return nil, nil
	}
	return s.expireFn(ctx)
}

func (s stubAccountService) ListByUser(ctx context.Context, userID string) ([]models.TradeAccount, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID)
}

func (s stubAccountService) Get(ctx context.Context, userID, accountID string) (models.TradeAccount, error) {
	if s.getFn == nil {
		return models.TradeAccount{}, nil
	}
	return s.getFn(ctx, userID, accountID)
}

type stubStrategyService struct {
	updateFn func(ctx context.Context, req services.StrategyUpdate) error
	listFn   func(ctx context.Context) ([]models.Strategy, error)
}

func (s stubStrategyService) UpdateParameters(ctx context.Context, req services.StrategyUpdate) error {
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, req)
}

func (s stubStrategyService) List(ctx context.Context) ([]models.Strategy, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

type handlerDeps struct {
	txRunner    fakeTxRunner
	users       stubUserStore
	accounts    stubAccountReader
	payments    stubPaymentReader
	packages    stubPackageStore
	referrals   stubReferralReader
	trades      stubTradeReader
	admin       stubAdminStore
	audit       stubAuditReader
	botKeys     stubBotKeyStore
	heartbeats  stubHeartbeatCache
	botSvc      stubBotService
	paymentSvc  stubPaymentService
	accountSvc  stubAccountService
	strategySvc stubStrategyService
}

func newTestHandler(deps handlerDeps) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
		OrdersBatchMax: 500,
	}
	return New(cfg, deps.txRunner, deps.users, deps.accounts, deps.payments, deps.packages, deps.referrals, deps.trades, deps.admin, deps.audit, deps.botKeys, deps.heartbeats, deps.botSvc, deps.paymentSvc, deps.accountSvc, deps.strategySvc, websocket.NewHub())
}

func newAuthedRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	}
	token, err := auth.GenerateToken("secret", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serveAuthed(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(handler).ServeHTTP(rr, req)
	return rr
}

func serveUnauthed(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}
