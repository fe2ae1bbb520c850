package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"fxbilling/internal/cache"
	"fxbilling/internal/models"
	"fxbilling/internal/store"
	"fxbilling/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubPaymentStore struct {
	createFn               func(ctx context.Context, tx store.Execer, payment models.Payment) error
	getForUpdateFn         func(ctx context.Context, tx store.Getter, id string) (models.Payment, error)
	updateStatusFn         func(ctx context.Context, tx store.Execer, id string, status models.PaymentStatus, verifiedBy *string, verifiedAt *time.Time) error
	hasCompletedPurchaseFn func(ctx context.Context, tx store.Getter, userID, excludePaymentID string) (bool, error)
}

func (s stubPaymentStore) Create(ctx context.Context, tx store.Execer, payment models.Payment) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, payment)
}

func (s stubPaymentStore) GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.Payment, error) {
	return s.getForUpdateFn(ctx, tx, id)
}

func (s stubPaymentStore) UpdateStatus(ctx context.Context, tx store.Execer, id string, status models.PaymentStatus, verifiedBy *string, verifiedAt *time.Time) error {
	if s.updateStatusFn == nil {
		return nil
	}
	return s.updateStatusFn(ctx, tx, id, status, verifiedBy, verifiedAt)
}

func (s stubPaymentStore) HasCompletedPurchase(ctx context.Context, tx store.Getter, userID, excludePaymentID string) (bool, error) {
	if s.hasCompletedPurchaseFn == nil {
		return false, nil
	}
	return s.hasCompletedPurchaseFn(ctx, tx, userID, excludePaymentID)
}

type stubAccountStore struct {
	createFn                func(ctx context.Context, tx store.Execer, account models.TradeAccount) error
	getByIDFn               func(ctx context.Context, id string) (models.TradeAccount, error)
	getByMT5IDFn            func(ctx context.Context, mt5AccountID string) (models.TradeAccount, error)
	getByUserFn             func(ctx context.Context, userID string) ([]models.TradeAccount, error)
	getForUpdateFn          func(ctx context.Context, tx store.Getter, id string) (models.TradeAccount, error)
	countByUserFn           func(ctx context.Context, userID string) (int, error)
	updateHeartbeatFieldsFn func(ctx context.Context, tx store.Execer, id string, botStatus models.BotStatus, balance, peak decimal.Decimal, syncedAt time.Time) error
	updateSubscriptionFn    func(ctx context.Context, tx store.Execer, id string, status models.SubscriptionStatus, start, expiry *time.Time, packageID string, resetCount int) error
	updateSubStatusFn       func(ctx context.Context, tx store.Execer, id string, status models.SubscriptionStatus) error
	updateCredentialsFn     func(ctx context.Context, tx store.Execer, account models.TradeAccount) error
	updateBotConfigFn       func(ctx context.Context, tx store.Execer, id string, activeBotID *string, activatedAt *time.Time, tradeConfig json.RawMessage) error
	updateDDBlockFn         func(ctx context.Context, tx store.Execer, id string, blocked bool, reason *string, blockedAt *time.Time) error
	expireOverdueFn         func(ctx context.Context, tx store.DB, now time.Time) ([]string, error)
}

func (s stubAccountStore) Create(ctx context.Context, tx store.Execer, account models.TradeAccount) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, account)
}

func (s stubAccountStore) GetByID(ctx context.Context, id string) (models.TradeAccount, error) {
	return s.getByIDFn(ctx, id)
}

func (s stubAccountStore) GetByMT5ID(ctx context.Context, mt5AccountID string) (models.TradeAccount, error) {
	return s.getByMT5IDFn(ctx, mt5AccountID)
}

func (s stubAccountStore) GetByUser(ctx context.Context, userID string) ([]models.TradeAccount, error) {
	if s.getByUserFn == nil {
		return nil, nil
	}
	return s.getByUserFn(ctx, userID)
}

func (s stubAccountStore) GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.TradeAccount, error) {
	return s.getForUpdateFn(ctx, tx, id)
}

func (s stubAccountStore) CountByUser(ctx context.Context, userID string) (int, error) {
	if s.countByUserFn == nil {
		return 0, nil
	}
	return s.countByUserFn(ctx, userID)
}

func (s stubAccountStore) UpdateHeartbeatFields(ctx context.Context, tx store.Execer, id string, botStatus models.BotStatus, balance, peak decimal.Decimal, syncedAt time.Time) error {
	if s.updateHeartbeatFieldsFn == nil {
		return nil
	}
	return s.updateHeartbeatFieldsFn(ctx, tx, id, botStatus, balance, peak, syncedAt)
}

func (s stubAccountStore) UpdateSubscription(ctx context.Context, tx store.Execer, id string, status models.SubscriptionStatus, start, expiry *time.Time, packageID string, resetCount int) error {
	if s.updateSubscriptionFn == nil {
		return nil
	}
	return s.updateSubscriptionFn(ctx, tx, id, status, start, expiry, packageID, resetCount)
}

func (s stubAccountStore) UpdateSubscriptionStatus(ctx context.Context, tx store.Execer, id string, status models.SubscriptionStatus) error {
	if s.updateSubStatusFn == nil {
		return nil
	}
	return s.updateSubStatusFn(ctx, tx, id, status)
}

func (s stubAccountStore) UpdateCredentials(ctx context.Context, tx store.Execer, account models.TradeAccount) error {
	if s.updateCredentialsFn == nil {
		return nil
	}
	return s.updateCredentialsFn(ctx, tx, account)
}

func (s stubAccountStore) UpdateBotConfig(ctx context.Context, tx store.Execer, id string, activeBotID *string, activatedAt *time.Time, tradeConfig json.RawMessage) error {
	if s.updateBotConfigFn == nil {
		return nil
	}
	return s.updateBotConfigFn(ctx, tx, id, activeBotID, activatedAt, tradeConfig)
}

func (s stubAccountStore) UpdateDDBlock(ctx context.Context, tx store.Execer, id string, blocked bool, reason *string, blockedAt *time.Time) error {
	if s.updateDDBlockFn == nil {
		return nil
	}
	return s.updateDDBlockFn(ctx, tx, id, blocked, reason, blockedAt)
}

func (s stubAccountStore) ExpireOverdue(ctx context.Context, tx store.DB, now time.Time) ([]string, error) {
	if s.expireOverdueFn == nil {
		return nil, nil
	}
	return s.expireOverdueFn(ctx, tx, now)
}

type stubPackageStore struct {
	getByIDFn func(ctx context.Context, id string) (models.Package, error)
}

func (s stubPackageStore) GetByID(ctx context.Context, id string) (models.Package, error) {
	return s.getByIDFn(ctx, id)
}

type stubQuotaStore struct {
	grantFn      func(ctx context.Context, tx store.Execer, quota models.AccountQuota) error
	totalSlotsFn func(ctx context.Context, userID string) (int, error)
}

func (s stubQuotaStore) Grant(ctx context.Context, tx store.Execer, quota models.AccountQuota) error {
	if s.grantFn == nil {
		return nil
	}
	return s.grantFn(ctx, tx, quota)
}

func (s stubQuotaStore) TotalSlots(ctx context.Context, userID string) (int, error) {
	if s.totalSlotsFn == nil {
		return 0, nil
	}
	return s.totalSlotsFn(ctx, userID)
}

type stubReferralStore struct {
	getCodeByIDFn          func(ctx context.Context, id string) (models.ReferralCode, error)
	getCodeByCodeFn        func(ctx context.Context, code string) (models.ReferralCode, error)
	createCodeFn           func(ctx context.Context, tx store.Execer, code models.ReferralCode) error
	hasEarningForPaymentFn func(ctx context.Context, tx store.Getter, paymentID string) (bool, error)
	createEarningFn        func(ctx context.Context, tx store.Execer, earning models.ReferralEarning) error
	ensureLedgerFn         func(ctx context.Context, tx store.Execer, id, userID string) error
	appendCreditFn         func(ctx context.Context, tx store.Execer, entryID, userID string, amountMinor int64, description string) error
}

func (s stubReferralStore) GetCodeByID(ctx context.Context, id string) (models.ReferralCode, error) {
	return s.getCodeByIDFn(ctx, id)
}

func (s stubReferralStore) GetCodeByCode(ctx context.Context, code string) (models.ReferralCode, error) {
	return s.getCodeByCodeFn(ctx, code)
}

func (s stubReferralStore) CreateCode(ctx context.Context, tx store.Execer, code models.ReferralCode) error {
	if s.createCodeFn == nil {
		return nil
	}
	return s.createCodeFn(ctx, tx, code)
}

func (s stubReferralStore) HasEarningForPayment(ctx context.Context, tx store.Getter, paymentID string) (bool, error) {
	if s.hasEarningForPaymentFn == nil {
		return false, nil
	}
	return s.hasEarningForPaymentFn(ctx, tx, paymentID)
}

func (s stubReferralStore) CreateEarning(ctx context.Context, tx store.Execer, earning models.ReferralEarning) error {
	if s.createEarningFn == nil {
		return nil
	}
	return s.createEarningFn(ctx, tx, earning)
}

func (s stubReferralStore) EnsureLedger(ctx context.Context, tx store.Execer, id, userID string) error {
	if s.ensureLedgerFn == nil {
		return nil
	}
	return s.ensureLedgerFn(ctx, tx, id, userID)
}

func (s stubReferralStore) AppendCredit(ctx context.Context, tx store.Execer, entryID, userID string, amountMinor int64, description string) error {
	if s.appendCreditFn == nil {
		return nil
	}
	return s.appendCreditFn(ctx, tx, entryID, userID, amountMinor, description)
}

type stubAuditStore struct {
	logFn func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

type stubStrategyStore struct {
	getByIDFn          func(ctx context.Context, id string) (models.Strategy, error)
	listFn             func(ctx context.Context) ([]models.Strategy, error)
	updateParametersFn func(ctx context.Context, tx store.Execer, id string, status models.StrategyStatus, allowedSymbols, parameters json.RawMessage) error
}

func (s stubStrategyStore) GetByID(ctx context.Context, id string) (models.Strategy, error) {
	return s.getByIDFn(ctx, id)
}

func (s stubStrategyStore) List(ctx context.Context) ([]models.Strategy, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

func (s stubStrategyStore) UpdateParameters(ctx context.Context, tx store.Execer, id string, status models.StrategyStatus, allowedSymbols, parameters json.RawMessage) error {
	if s.updateParametersFn == nil {
		return nil
	}
	return s.updateParametersFn(ctx, tx, id, status, allowedSymbols, parameters)
}

type stubTradeStore struct {
	upsertFn func(ctx context.Context, tx store.Tx, trade models.Trade) (bool, error)
}

func (s stubTradeStore) Upsert(ctx context.Context, tx store.Tx, trade models.Trade) (bool, error) {
	if s.upsertFn == nil {
		return true, nil
	}
	return s.upsertFn(ctx, tx, trade)
}

// stubCache records calls; versions increment per key like the real thing.
type stubCache struct {
	heartbeats map[string]cache.Heartbeat
	versions   map[string]int64
	cleared    []string
}

func newStubCache() *stubCache {
	return &stubCache{
		heartbeats: map[string]cache.Heartbeat{},
		versions:   map[string]int64{},
	}
}

func (c *stubCache) RecordHeartbeat(_ context.Context, mt5AccountID string, hb cache.Heartbeat) bool {
	c.heartbeats[mt5AccountID] = hb
	return true
}

func (c *stubCache) ReadHeartbeat(_ context.Context, mt5AccountID string) *cache.Heartbeat {
	hb, ok := c.heartbeats[mt5AccountID]
	if !ok {
		return nil
	}
	return &hb
}

func (c *stubCache) ReadHeartbeatsBatch(_ context.Context, mt5AccountIDs []string) map[string]*cache.Heartbeat {
	result := make(map[string]*cache.Heartbeat, len(mt5AccountIDs))
	for _, id := range mt5AccountIDs {
		if hb, ok := c.heartbeats[id]; ok {
			copied := hb
			result[id] = &copied
		} else {
			result[id] = nil
		}
	}
	return result
}

func (c *stubCache) BumpAccountConfigVersion(_ context.Context, mt5AccountID string) int64 {
	c.versions["account:"+mt5AccountID]++
	return c.versions["account:"+mt5AccountID]
}

func (c *stubCache) AccountConfigVersion(_ context.Context, mt5AccountID string) int64 {
	return c.versions["account:"+mt5AccountID]
}

func (c *stubCache) BumpStrategyConfigVersion(_ context.Context, strategyID string) int64 {
	c.versions["strategy:"+strategyID]++
	return c.versions["strategy:"+strategyID]
}

func (c *stubCache) StrategyConfigVersion(_ context.Context, strategyID string) int64 {
	return c.versions["strategy:"+strategyID]
}

func (c *stubCache) ClearAccountKeys(_ context.Context, mt5AccountID string) bool {
	delete(c.heartbeats, mt5AccountID)
	delete(c.versions, "account:"+mt5AccountID)
	c.cleared = append(c.cleared, mt5AccountID)
	return true
}

type stubHub struct {
	updates []websocket.StatusUpdate
}

func (h *stubHub) BroadcastStatus(_ string, update websocket.StatusUpdate) {
	h.updates = append(h.updates, update)
}

type syncCall struct {
	kind    string
	account string
	changed []string
}

type stubSyncer struct {
	calls []syncCall
}

func (s *stubSyncer) AccountCreated(_ context.Context, account *models.TradeAccount) {
	s.calls = append(s.calls, syncCall{kind: "created", account: account.MT5AccountID})
}

func (s *stubSyncer) AccountSaved(_ context.Context, account *models.TradeAccount, changed []string) {
	s.calls = append(s.calls, syncCall{kind: "saved", account: account.MT5AccountID, changed: changed})
}

func (s *stubSyncer) AccountIdentityChanged(_ context.Context, oldMT5AccountID string) {
	s.calls = append(s.calls, syncCall{kind: "cleared", account: oldMT5AccountID})
}

func stringPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
