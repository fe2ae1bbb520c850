package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"fxbilling/internal/cache"
	"fxbilling/internal/db"
	"fxbilling/internal/models"
	"fxbilling/internal/store"
	"fxbilling/internal/websocket"
)

var (
	ErrInvalidBotStatus    = errors.New("invalid bot status")
	ErrInvalidBlockReason  = errors.New("invalid drawdown block reason")
	ErrBatchTooLarge       = errors.New("order batch exceeds limit")
	ErrEmptyBatch          = errors.New("order batch is empty")
	ErrInvalidPositionType = errors.New("invalid position type")
)

type BotAccountStore interface {
	GetByMT5ID(ctx context.Context, mt5AccountID string) (models.TradeAccount, error)
	UpdateHeartbeatFields(ctx context.Context, tx store.Execer, id string, botStatus models.BotStatus, balance, peak decimal.Decimal, syncedAt time.Time) error
	UpdateDDBlock(ctx context.Context, tx store.Execer, id string, blocked bool, reason *string, blockedAt *time.Time) error
}

type StrategyReader interface {
	GetByID(ctx context.Context, id string) (models.Strategy, error)
}

type TradeWriter interface {
	Upsert(ctx context.Context, tx store.Tx, trade models.Trade) (bool, error)
}

type StatusHub interface {
	BroadcastStatus(userID string, update websocket.StatusUpdate)
}

// BotService implements the contract the remote MT5 bot speaks: heartbeat
// submission, config retrieval, trade upserts, and drawdown-block reports.
type BotService struct {
	txRunner   db.TxRunner
	accounts   BotAccountStore
	strategies StrategyReader
	trades     TradeWriter
	cache      CachePort
	hub        StatusHub
	batchMax   int
	logger     *slog.Logger
}

func NewBotService(txRunner db.TxRunner, accounts BotAccountStore, strategies StrategyReader, trades TradeWriter, cachePort CachePort, hub StatusHub, batchMax int, logger *slog.Logger) *BotService {
	if batchMax <= 0 {
		batchMax = 500
	}
	return &BotService{
		txRunner:   txRunner,
		accounts:   accounts,
		strategies: strategies,
		trades:     trades,
		cache:      cachePort,
		hub:        hub,
		batchMax:   batchMax,
		logger:     logger,
	}
}

type HeartbeatRequest struct {
	MT5AccountID   string
	BotStatus      *string
	CurrentBalance *decimal.Decimal
}

// StrategyView is the strategy block of a heartbeat response: everything the
// bot needs to run the strategy without a second request.
type StrategyView struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	Version        string                     `json:"version"`
	Type           string                     `json:"type"`
	Status         models.StrategyStatus      `json:"status"`
	AllowedSymbols []string                   `json:"allowed_symbols"`
	Parameters     map[string]json.RawMessage `json:"parameters_by_symbol"`
	ConfigVersion  int64                      `json:"config_version"`
}

type HeartbeatResponse struct {
	ServerTime         time.Time                 `json:"server_time"`
	ShouldContinue     bool                      `json:"should_continue"`
	BotStatus          models.BotStatus          `json:"bot_status"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscription_status"`
	DaysRemaining      int                       `json:"days_remaining"`
	DDBlocked          bool                      `json:"dd_blocked"`
	DDBlockReason      *string                   `json:"dd_block_reason,omitempty"`
	TradeConfig        models.TradeConfig        `json:"trade_config"`
	RiskConfig         models.RiskConfig         `json:"risk_config"`
	ConfigVersion      int64                     `json:"config_version"`
	Strategy           *StrategyView             `json:"strategy,omitempty"`
}

// Heartbeat records the bot's liveness report and assembles the full config
// snapshot in one round trip. Validation failures mutate nothing; a dead
// cache degrades the response but never fails it.
func (s *BotService) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	if req.BotStatus != nil && !models.ValidBotStatus(*req.BotStatus) {
		return HeartbeatResponse{}, ErrInvalidBotStatus
	}
	account, err := s.accounts.GetByMT5ID(ctx, req.MT5AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return HeartbeatResponse{}, ErrAccountNotFound
	}
	if err != nil {
		return HeartbeatResponse{}, err
	}

	now := time.Now()
	status := account.BotStatus
	if req.BotStatus != nil {
		status = models.BotStatus(*req.BotStatus)
	}
	balance := account.CurrentBalance
	if req.CurrentBalance != nil {
		balance = *req.CurrentBalance
	}
	peak := account.PeakBalance
	if balance.GreaterThan(peak) {
		peak = balance
	}

	// Only bot-owned columns are written, so a concurrent config edit from
	// the web side cannot be clobbered by this update.
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.accounts.UpdateHeartbeatFields(ctx, tx, account.ID, status, balance, peak, now)
	})
	if err != nil {
		return HeartbeatResponse{}, err
	}
	account.BotStatus = status
	account.CurrentBalance = balance
	account.PeakBalance = peak
	account.LastSyncAt = &now

	s.recordLiveness(ctx, &account)
	s.broadcastStatus(&account)
	return s.buildHeartbeatResponse(ctx, &account, now), nil
}

func (s *BotService) broadcastStatus(account *models.TradeAccount) {
	update := websocket.StatusUpdate{
		AccountID:    account.ID,
		MT5AccountID: account.MT5AccountID,
		BotStatus:    string(account.BotStatus),
		Balance:      account.CurrentBalance.String(),
		DDBlocked:    account.DDBlocked,
	}
	if account.DDBlockReason != nil {
		update.DDBlockReason = *account.DDBlockReason
	}
	s.hub.BroadcastStatus(account.UserID, update)
}

func (s *BotService) recordLiveness(ctx context.Context, account *models.TradeAccount) {
	hb := cacheHeartbeatFromAccount(account)
	if !s.cache.RecordHeartbeat(ctx, account.MT5AccountID, hb) {
		s.logger.Warn("heartbeat cache write failed, serving from store", slog.String("account", account.MT5AccountID))
	}
}

func (s *BotService) buildHeartbeatResponse(ctx context.Context, account *models.TradeAccount, now time.Time) HeartbeatResponse {
	cfg := account.TradeConfig()
	resp := HeartbeatResponse{
		ServerTime:         now,
		ShouldContinue:     account.SubscriptionLive(now),
		BotStatus:          account.BotStatus,
		SubscriptionStatus: account.SubscriptionStatus,
		DaysRemaining:      account.DaysRemaining(now),
		DDBlocked:          account.DDBlocked,
		DDBlockReason:      account.DDBlockReason,
		TradeConfig:        cfg,
		RiskConfig:         cfg.Risk(),
		ConfigVersion:      s.cache.AccountConfigVersion(ctx, account.MT5AccountID),
	}
	if account.ActiveBotID == nil {
		return resp
	}
	strategy, err := s.strategies.GetByID(ctx, *account.ActiveBotID)
	if err != nil {
		// The strategy block is best-effort: the bot keeps its last-known
		// parameters until the next heartbeat succeeds fully.
		s.logger.Error("active strategy lookup failed",
			slog.String("account", account.MT5AccountID), slog.String("strategy", *account.ActiveBotID), slog.Any("error", err))
		return resp
	}
	resp.Strategy = &StrategyView{
		ID:             strategy.ID,
		Name:           strategy.Name,
		Version:        strategy.Version,
		Type:           strategy.StrategyType,
		Status:         strategy.Status,
		AllowedSymbols: strategy.Symbols(),
		Parameters:     strategy.ParametersBySymbol(),
		ConfigVersion:  s.cache.StrategyConfigVersion(ctx, strategy.ID),
	}
	return resp
}

type AccountConfig struct {
	MT5AccountID       string                    `json:"mt5_account_id"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscription_status"`
	DaysRemaining      int                       `json:"days_remaining"`
	CurrentBalance     decimal.Decimal           `json:"current_balance"`
	PeakBalance        decimal.Decimal           `json:"peak_balance"`
	TradeConfig        models.TradeConfig        `json:"trade_config"`
	ConfigVersion      int64                     `json:"config_version"`
}

// Config serves GET config requests from the bot between heartbeats.
func (s *BotService) Config(ctx context.Context, mt5AccountID string) (AccountConfig, error) {
	account, err := s.accounts.GetByMT5ID(ctx, mt5AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountConfig{}, ErrAccountNotFound
	}
	if err != nil {
		return AccountConfig{}, err
	}
	return AccountConfig{
		MT5AccountID:       account.MT5AccountID,
		SubscriptionStatus: account.SubscriptionStatus,
		DaysRemaining:      account.DaysRemaining(time.Now()),
		CurrentBalance:     account.CurrentBalance,
		PeakBalance:        account.PeakBalance,
		TradeConfig:        account.TradeConfig(),
		ConfigVersion:      s.cache.AccountConfigVersion(ctx, account.MT5AccountID),
	}, nil
}

type OrderResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// RecordOrders upserts bot-reported trades by (account, broker order id).
// The whole batch commits or rolls back together.
func (s *BotService) RecordOrders(ctx context.Context, mt5AccountID string, trades []models.Trade) (OrderResult, error) {
	if len(trades) == 0 {
		return OrderResult{}, ErrEmptyBatch
	}
	if len(trades) > s.batchMax {
		return OrderResult{}, ErrBatchTooLarge
	}
	for _, trade := range trades {
		if !models.ValidPositionType(string(trade.PositionType)) {
			return OrderResult{}, ErrInvalidPositionType
		}
	}
	account, err := s.accounts.GetByMT5ID(ctx, mt5AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return OrderResult{}, ErrAccountNotFound
	}
	if err != nil {
		return OrderResult{}, err
	}
	var result OrderResult
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = OrderResult{}
		for _, trade := range trades {
			trade.ID = uuid.NewString()
			trade.TradeAccountID = account.ID
			created, err := s.trades.Upsert(ctx, tx, trade)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	return result, nil
}

// ReportDDBlock persists a drawdown stop reported by the bot's risk module
// and bumps the config version so every consumer sees the block promptly.
func (s *BotService) ReportDDBlock(ctx context.Context, mt5AccountID, reason string) error {
	if !models.ValidDDBlockReason(reason) {
		return ErrInvalidBlockReason
	}
	account, err := s.accounts.GetByMT5ID(ctx, mt5AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	now := time.Now()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.accounts.UpdateDDBlock(ctx, tx, account.ID, true, &reason, &now)
	})
	if err != nil {
		return err
	}
	account.DDBlocked = true
	account.DDBlockReason = &reason
	account.DDBlockedAt = &now
	if v := s.cache.BumpAccountConfigVersion(ctx, account.MT5AccountID); v > 0 {
		s.logger.Info("dd block recorded", slog.String("account", account.MT5AccountID), slog.String("reason", reason), slog.Int64("version", v))
	}
	s.recordLiveness(ctx, &account)
	s.broadcastStatus(&account)
	return nil
}

func cacheHeartbeatFromAccount(account *models.TradeAccount) cache.Heartbeat {
	hb := cache.Heartbeat{
		LastSeen:       time.Now(),
		BotStatus:      string(account.BotStatus),
		CurrentBalance: account.CurrentBalance,
		PeakBalance:    account.PeakBalance,
		DDBlocked:      account.DDBlocked,
	}
	if account.DDBlockReason != nil {
		hb.DDBlockReason = *account.DDBlockReason
	}
	if account.LastSyncAt != nil {
		hb.LastSeen = *account.LastSyncAt
	}
	return hb
}
