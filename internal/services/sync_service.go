package services

import (
	"context"
	"log/slog"

	"fxbilling/internal/cache"
	"fxbilling/internal/models"
)

// CachePort is the heartbeat/version cache as seen by the service layer.
// Injected at construction time; implementations degrade softly, so the
// services never branch on cache errors.
type CachePort interface {
	RecordHeartbeat(ctx context.Context, mt5AccountID string, hb cache.Heartbeat) bool
	ReadHeartbeat(ctx context.Context, mt5AccountID string) *cache.Heartbeat
	ReadHeartbeatsBatch(ctx context.Context, mt5AccountIDs []string) map[string]*cache.Heartbeat
	BumpAccountConfigVersion(ctx context.Context, mt5AccountID string) int64
	AccountConfigVersion(ctx context.Context, mt5AccountID string) int64
	BumpStrategyConfigVersion(ctx context.Context, strategyID string) int64
	StrategyConfigVersion(ctx context.Context, strategyID string) int64
	ClearAccountKeys(ctx context.Context, mt5AccountID string) bool
}

// Fields whose change must be visible to the bot on its next heartbeat.
var importantAccountFields = map[string]struct{}{
	"trade_config":        {},
	"bot_status":          {},
	"subscription_status": {},
	"dd_blocked":          {},
	"active_bot":          {},
}

var importantStrategyFields = map[string]struct{}{
	"current_parameters": {},
	"status":             {},
	"allowed_symbols":    {},
}

// SyncService runs after every trade-account or strategy write: it refreshes
// the heartbeat mirror and bumps config-version counters so the stateless
// bot can detect changes with a single integer comparison.
type SyncService struct {
	cache  CachePort
	logger *slog.Logger
}

func NewSyncService(cachePort CachePort, logger *slog.Logger) *SyncService {
	return &SyncService{cache: cachePort, logger: logger}
}

// AccountCreated initializes cache state for a brand-new account: heartbeat
// mirror plus a version counter starting at 1, so the bot never has to
// disambiguate "never set" from "version zero".
func (s *SyncService) AccountCreated(ctx context.Context, account *models.TradeAccount) {
	s.refreshHeartbeat(ctx, account)
	if v := s.cache.BumpAccountConfigVersion(ctx, account.MT5AccountID); v > 0 {
		s.logger.Info("initialized config version", slog.String("account", account.MT5AccountID), slog.Int64("version", v))
	}
}

// AccountSaved runs after any account write. changed lists the fields the
// caller knows it touched; nil means unknown, which bumps the version
// unconditionally (the safe-but-wasteful choice).
func (s *SyncService) AccountSaved(ctx context.Context, account *models.TradeAccount, changed []string) {
	s.refreshHeartbeat(ctx, account)
	if !anyImportant(changed, importantAccountFields) {
		return
	}
	if v := s.cache.BumpAccountConfigVersion(ctx, account.MT5AccountID); v > 0 {
		s.logger.Info("bumped account config version", slog.String("account", account.MT5AccountID), slog.Int64("version", v))
	}
}

// StrategySaved bumps the strategy's global counter when a field the bot
// contract exposes changed. One bump covers every account running the
// strategy; no per-account keys are written.
func (s *SyncService) StrategySaved(ctx context.Context, strategy *models.Strategy, changed []string) {
	if !anyImportant(changed, importantStrategyFields) {
		return
	}
	if v := s.cache.BumpStrategyConfigVersion(ctx, strategy.ID); v > 0 {
		s.logger.Info("bumped strategy config version", slog.String("strategy", strategy.ID), slog.Int64("version", v))
	}
}

// AccountIdentityChanged deletes cache keys of an abandoned external id
// after an MT5 reset rotated the broker account number.
func (s *SyncService) AccountIdentityChanged(ctx context.Context, oldMT5AccountID string) {
	if s.cache.ClearAccountKeys(ctx, oldMT5AccountID) {
		s.logger.Info("cleared cache keys for old account id", slog.String("account", oldMT5AccountID))
	}
}

func (s *SyncService) refreshHeartbeat(ctx context.Context, account *models.TradeAccount) {
	s.cache.RecordHeartbeat(ctx, account.MT5AccountID, cacheHeartbeatFromAccount(account))
}

func anyImportant(changed []string, important map[string]struct{}) bool {
	if changed == nil {
		return true
	}
	for _, field := range changed {
		if _, ok := important[field]; ok {
			return true
		}
	}
	return false
}
