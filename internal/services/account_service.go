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
	"github.com/lib/pq"

	"fxbilling/internal/db"
	"fxbilling/internal/models"
	"fxbilling/internal/store"
)

var (
	ErrQuotaExhausted   = errors.New("no account slots remaining")
	ErrNotAccountOwner  = errors.New("account does not belong to user")
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrStrategyInactive = errors.New("strategy is not active")
	ErrStrategyMismatch = errors.New("enabled strategies must match the active bot")
	ErrDuplicateMT5ID   = errors.New("mt5 account id already registered for user")
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type AccountAdminStore interface {
	Create(ctx context.Context, tx store.Execer, account models.TradeAccount) error
	GetByID(ctx context.Context, id string) (models.TradeAccount, error)
	GetByUser(ctx context.Context, userID string) ([]models.TradeAccount, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.TradeAccount, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	UpdateBotConfig(ctx context.Context, tx store.Execer, id string, activeBotID *string, activatedAt *time.Time, tradeConfig json.RawMessage) error
	UpdateDDBlock(ctx context.Context, tx store.Execer, id string, blocked bool, reason *string, blockedAt *time.Time) error
	ExpireOverdue(ctx context.Context, tx store.DB, now time.Time) ([]string, error)
}

type QuotaReader interface {
	TotalSlots(ctx context.Context, userID string) (int, error)
}

// AccountService covers the web side of trade accounts: registration against
// purchased quota, bot configuration edits, and the subscription sweep.
type AccountService struct {
	txRunner   db.TxRunner
	accounts   AccountAdminStore
	quotas     QuotaReader
	strategies StrategyReader
	audit      AuditStore
	sync       Syncer
	cache      CachePort
	logger     *slog.Logger
}

func NewAccountService(txRunner db.TxRunner, accounts AccountAdminStore, quotas QuotaReader, strategies StrategyReader, audit AuditStore, sync Syncer, cachePort CachePort, logger *slog.Logger) *AccountService {
	return &AccountService{
		txRunner:   txRunner,
		accounts:   accounts,
		quotas:     quotas,
		strategies: strategies,
		audit:      audit,
		sync:       sync,
		cache:      cachePort,
		logger:     logger,
	}
}

type CreateAccountRequest struct {
	UserID       string
	AccountName  string
	MT5AccountID string
	MT5Password  string
	MT5Server    string
	BrokerName   string
	SymbolSuffix string
	PackageID    string
}

// CreateAccount registers a PENDING account against the user's purchased
// slots. The unique (user_id, mt5_account_id) constraint backs the duplicate
// check under concurrency.
func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (models.TradeAccount, error) {
	account := models.TradeAccount{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		AccountName:        req.AccountName,
		MT5AccountID:       req.MT5AccountID,
		MT5Password:        req.MT5Password,
		MT5Server:          req.MT5Server,
		BrokerName:         req.BrokerName,
		SymbolSuffix:       req.SymbolSuffix,
		PackageID:          req.PackageID,
		SubscriptionStatus: models.SubscriptionPending,
		BotStatus:          models.BotPaused,
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		slots, err := s.quotas.TotalSlots(ctx, req.UserID)
		if err != nil {
			return err
		}
		used, err := s.accounts.CountByUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if used >= slots {
			return ErrQuotaExhausted
		}
		if err := s.accounts.Create(ctx, tx, account); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateMT5ID
			}
			return err
		}
		return s.audit.Log(ctx, tx, req.UserID, "account_create", "trade_account", account.ID, "{}")
	})
	if err != nil {
		return models.TradeAccount{}, err
	}
	s.sync.AccountCreated(ctx, &account)
	return account, nil
}

type BotConfigUpdate struct {
	UserID      string
	AccountID   string
	ActiveBotID *string
	TradeConfig models.TradeConfig
}

// UpdateBotConfig applies a user's bot configuration edit. Setting an active
// bot pins enabled_strategies to exactly that strategy; clearing it leaves
// the list as submitted.
func (s *AccountService) UpdateBotConfig(ctx context.Context, req BotConfigUpdate) error {
	if req.ActiveBotID != nil {
		strategy, err := s.strategies.GetByID(ctx, *req.ActiveBotID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStrategyNotFound
		}
		if err != nil {
			return err
		}
		if strategy.Status == models.StrategyInactive {
			return ErrStrategyInactive
		}
		if len(req.TradeConfig.EnabledStrategies) != 1 || req.TradeConfig.EnabledStrategies[0] != strategy.ID {
			return ErrStrategyMismatch
		}
	}
	raw, err := json.Marshal(req.TradeConfig)
	if err != nil {
		return err
	}
	var account models.TradeAccount
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		account, err = s.accounts.GetForUpdate(ctx, tx, req.AccountID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if account.UserID != req.UserID {
			return ErrNotAccountOwner
		}
		var activatedAt *time.Time
		if req.ActiveBotID != nil {
			now := time.Now()
			activatedAt = &now
			if account.ActiveBotID != nil && *account.ActiveBotID == *req.ActiveBotID {
				activatedAt = account.BotActivatedAt
			}
		}
		if err := s.accounts.UpdateBotConfig(ctx, tx, account.ID, req.ActiveBotID, activatedAt, raw); err != nil {
			return err
		}
		account.ActiveBotID = req.ActiveBotID
		account.BotActivatedAt = activatedAt
		account.TradeConfigRaw = raw
		return s.audit.Log(ctx, tx, req.UserID, "bot_config_update", "trade_account", account.ID, "{}")
	})
	if err != nil {
		return err
	}
	s.sync.AccountSaved(ctx, &account, []string{"trade_config", "active_bot"})
	return nil
}

// ClearDDBlock lifts a drawdown block after admin review.
func (s *AccountService) ClearDDBlock(ctx context.Context, adminID, accountID string) error {
	var account models.TradeAccount
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		account, err = s.accounts.GetForUpdate(ctx, tx, accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if err := s.accounts.UpdateDDBlock(ctx, tx, account.ID, false, nil, nil); err != nil {
			return err
		}
		account.DDBlocked = false
		account.DDBlockReason = nil
		account.DDBlockedAt = nil
		return s.audit.Log(ctx, tx, adminID, "dd_unblock", "trade_account", account.ID, "{}")
	})
	if err != nil {
		return err
	}
	s.sync.AccountSaved(ctx, &account, []string{"dd_blocked"})
	return nil
}

// ExpireOverdueSubscriptions flips lapsed ACTIVE subscriptions to EXPIRED and
// bumps each affected account's config version so running bots stop within
// one heartbeat interval. Returns the external ids that were expired.
func (s *AccountService) ExpireOverdueSubscriptions(ctx context.Context) ([]string, error) {
	var expired []string
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		expired, err = s.accounts.ExpireOverdue(ctx, tx, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, mt5ID := range expired {
		if v := s.cache.BumpAccountConfigVersion(ctx, mt5ID); v > 0 {
			s.logger.Info("expired subscription", slog.String("account", mt5ID), slog.Int64("version", v))
		}
	}
	return expired, nil
}

func (s *AccountService) ListByUser(ctx context.Context, userID string) ([]models.TradeAccount, error) {
	return s.accounts.GetByUser(ctx, userID)
}

func (s *AccountService) Get(ctx context.Context, userID, accountID string) (models.TradeAccount, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TradeAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return models.TradeAccount{}, err
	}
	if account.UserID != userID {
		return models.TradeAccount{}, ErrNotAccountOwner
	}
	return account, nil
}
