package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"fxbilling/internal/models"
)

// TradeAccountStore owns all reads/writes of trade_accounts. Every query
// filters is_active = TRUE so soft-deleted rows are invisible by
// construction, not by caller discipline.
type TradeAccountStore struct {
	db DB
}

func NewTradeAccountStore(db DB) *TradeAccountStore {
	return &TradeAccountStore{db: db}
}

const tradeAccountColumns = `
	id, user_id, account_name, mt5_account_id, mt5_password, mt5_server,
	broker_name, symbol_suffix, package_id, subscription_start,
	subscription_expiry, subscription_status, bot_status, active_bot_id,
	bot_activated_at, trade_config, dd_blocked, dd_block_reason,
	dd_blocked_at, current_period_reset_count, last_mt5_reset_at,
	current_balance, peak_balance, last_sync_at, is_active, created_at, updated_at
`

func (s *TradeAccountStore) Create(ctx context.Context, tx Execer, account models.TradeAccount) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trade_accounts (
			id, user_id, account_name, mt5_account_id, mt5_password, mt5_server,
			broker_name, symbol_suffix, package_id, subscription_status,
			bot_status, trade_config, current_balance, peak_balance
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, account.ID, account.UserID, account.AccountName, account.MT5AccountID,
		account.MT5Password, account.MT5Server, account.BrokerName, account.SymbolSuffix,
		account.PackageID, account.SubscriptionStatus, account.BotStatus,
		rawOrEmptyObject(account.TradeConfigRaw), account.CurrentBalance, account.PeakBalance)
	return err
}

func (s *TradeAccountStore) GetByID(ctx context.Context, id string) (models.TradeAccount, error) {
	var row models.TradeAccount
	err := s.db.GetContext(ctx, &row, `
		SELECT `+tradeAccountColumns+`
		FROM trade_accounts
		WHERE id = $1 AND is_active = TRUE
	`, id)
	return row, err
}

// GetByMT5ID is the bot-facing lookup: external broker account number,
// active rows only.
func (s *TradeAccountStore) GetByMT5ID(ctx context.Context, mt5AccountID string) (models.TradeAccount, error) {
	var row models.TradeAccount
	err := s.db.GetContext(ctx, &row, `
		SELECT `+tradeAccountColumns+`
		FROM trade_accounts
		WHERE mt5_account_id = $1 AND is_active = TRUE
	`, mt5AccountID)
	return row, err
}

// GetForUpdate locks the row for the remainder of the transaction so a
// payment review and a heartbeat cannot interleave their writes.
func (s *TradeAccountStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.TradeAccount, error) {
	var row models.TradeAccount
	err := tx.GetContext(ctx, &row, `
		SELECT `+tradeAccountColumns+`
		FROM trade_accounts
		WHERE id = $1 AND is_active = TRUE
		FOR UPDATE
	`, id)
	return row, err
}

func (s *TradeAccountStore) GetByUser(ctx context.Context, userID string) ([]models.TradeAccount, error) {
	var rows []models.TradeAccount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+tradeAccountColumns+`
		FROM trade_accounts
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TradeAccountStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM trade_accounts
		WHERE user_id = $1 AND is_active = TRUE
	`, userID)
	return count, err
}

// UpdateHeartbeatFields writes only the columns the bot owns, so a
// concurrent web edit of the config columns is never clobbered by a
// heartbeat.
func (s *TradeAccountStore) UpdateHeartbeatFields(ctx context.Context, tx Execer, id string, botStatus models.BotStatus, balance, peak decimal.Decimal, syncedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trade_accounts
		SET bot_status = $1, current_balance = $2, peak_balance = $3,
		    last_sync_at = $4, updated_at = NOW()
		WHERE id = $5 AND is_active = TRUE
	`, botStatus, balance, peak, syncedAt, id)
	return err
}

func (s *TradeAccountStore) UpdateSubscription(ctx context.Context, tx Execer, id string, status models.SubscriptionStatus, start, expiry *time.Time, packageID string, resetCount int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trade_accounts
		SET subscription_status = $1, subscription_start = $2, subscription_expiry = $3,
		    package_id = $4, current_period_reset_count = $5, updated_at = NOW()
		WHERE id = $6 AND is_active = TRUE
	`, status, start, expiry, packageID, resetCount, id)
	return err
}

func (s *TradeAccountStore) UpdateSubscriptionStatus(ctx context.Context, tx Execer, id string, status models.SubscriptionStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trade_accounts
		SET subscription_status = $1, updated_at = NOW()
		WHERE id = $2 AND is_active = TRUE
	`, status, id)
	return err
}

// UpdateCredentials applies an MT5 reset: new broker identity, bumped reset
// counter, bot forced to PAUSED.
func (s *TradeAccountStore) UpdateCredentials(ctx context.Context, tx Execer, account models.TradeAccount) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trade_accounts
		SET account_name = $1, mt5_account_id = $2, mt5_password = $3,
		    mt5_server = $4, broker_name = $5, current_period_reset_count = $6,
		    last_mt5_reset_at = $7, bot_status = $8, updated_at = NOW()
		WHERE id = $9 AND is_active = TRUE
	`, account.AccountName, account.MT5AccountID, account.MT5Password,
		account.MT5Server, account.BrokerName, account.CurrentPeriodResetCount,
		account.LastMT5ResetAt, account.BotStatus, account.ID)
	return err
}

func (s *TradeAccountStore) UpdateBotConfig(ctx context.Context, tx Execer, id string, activeBotID *string, activatedAt *time.Time, tradeConfig json.RawMessage) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trade_accounts
		SET active_bot_id = $1, bot_activated_at = $2, trade_config = $3, updated_at = NOW()
		WHERE id = $4 AND is_active = TRUE
	`, activeBotID, activatedAt, rawOrEmptyObject(tradeConfig), id)
	return err
}

func (s *TradeAccountStore) UpdateDDBlock(ctx context.Context, tx Execer, id string, blocked bool, reason *string, blockedAt *time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trade_accounts
		SET dd_blocked = $1, dd_block_reason = $2, dd_blocked_at = $3, updated_at = NOW()
		WHERE id = $4 AND is_active = TRUE
	`, blocked, reason, blockedAt, id)
	return err
}

// ExpireOverdue flips ACTIVE accounts whose expiry has passed to EXPIRED and
// returns the affected external ids so their config versions can be bumped.
func (s *TradeAccountStore) ExpireOverdue(ctx context.Context, tx DB, now time.Time) ([]string, error) {
	var ids []string
	err := tx.SelectContext(ctx, &ids, `
		UPDATE trade_accounts
		SET subscription_status = 'EXPIRED', updated_at = NOW()
		WHERE subscription_status = 'ACTIVE'
		  AND subscription_expiry IS NOT NULL
		  AND subscription_expiry <= $1
		  AND is_active = TRUE
		RETURNING mt5_account_id
	`, now)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func rawOrEmptyObject(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
