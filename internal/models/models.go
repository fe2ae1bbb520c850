package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

type BotStatus string

const (
	BotActive BotStatus = "ACTIVE"
	BotPaused BotStatus = "PAUSED"
	BotDown   BotStatus = "DOWN"
)

func ValidBotStatus(s string) bool {
	switch BotStatus(s) {
	case BotActive, BotPaused, BotDown:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

func ValidPaymentStatus(s string) bool {
	switch PaymentStatus(s) {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type RequestType string

const (
	RequestPurchase RequestType = "PURCHASE"
	RequestRenewal  RequestType = "RENEWAL"
	RequestMT5Reset RequestType = "MT5_RESET"
)

func ValidRequestType(s string) bool {
	switch RequestType(s) {
	case RequestPurchase, RequestRenewal, RequestMT5Reset:
		return true
	}
	return false
}

type StrategyStatus string

const (
	StrategyActive   StrategyStatus = "ACTIVE"
	StrategyInactive StrategyStatus = "INACTIVE"
	StrategyBeta     StrategyStatus = "BETA"
)

func ValidStrategyStatus(s string) bool {
	switch StrategyStatus(s) {
	case StrategyActive, StrategyInactive, StrategyBeta:
		return true
	}
	return false
}

type DDBlockReason string

const (
	DDDailyLimit DDBlockReason = "DAILY_DD_LIMIT"
	DDMaxAccount DDBlockReason = "MAX_ACCOUNT_DD"
)

func ValidDDBlockReason(s string) bool {
	switch DDBlockReason(s) {
	case DDDailyLimit, DDMaxAccount:
		return true
	}
	return false
}

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TradeConfig is the per-account trading configuration the bot consumes.
// Stored as JSON in trade_accounts.trade_config.
type TradeConfig struct {
	Symbols           []string        `json:"symbols,omitempty"`
	Timeframes        []string        `json:"timeframes,omitempty"`
	LotSize           decimal.Decimal `json:"lot_size"`
	EnabledStrategies []string        `json:"enabled_strategies,omitempty"`
	NewsFilter        bool            `json:"news_filter"`
	DailyDDLimitPct   decimal.Decimal `json:"daily_dd_limit_pct"`
	MaxAccountDDPct   decimal.Decimal `json:"max_account_dd_pct"`
	DynamicSizing     bool            `json:"dynamic_sizing"`
}

// RiskConfig is the risk-relevant slice of TradeConfig, exposed separately in
// the heartbeat response so the bot's risk module reads only named fields.
type RiskConfig struct {
	NewsFilter      bool            `json:"news_filter"`
	DailyDDLimitPct decimal.Decimal `json:"daily_dd_limit_pct"`
	MaxAccountDDPct decimal.Decimal `json:"max_account_dd_pct"`
	DynamicSizing   bool            `json:"dynamic_sizing"`
}

func (c TradeConfig) Risk() RiskConfig {
	return RiskConfig{
		NewsFilter:      c.NewsFilter,
		DailyDDLimitPct: c.DailyDDLimitPct,
		MaxAccountDDPct: c.MaxAccountDDPct,
		DynamicSizing:   c.DynamicSizing,
	}
}

type TradeAccount struct {
	ID           string `db:"id" json:"id"`
	UserID       string `db:"user_id" json:"user_id"`
	AccountName  string `db:"account_name" json:"account_name"`
	MT5AccountID string `db:"mt5_account_id" json:"mt5_account_id"`
	MT5Password  string `db:"mt5_password" json:"-"`
	MT5Server    string `db:"mt5_server" json:"mt5_server"`
	BrokerName   string `db:"broker_name" json:"broker_name"`
	SymbolSuffix string `db:"symbol_suffix" json:"symbol_suffix"`

	PackageID          string             `db:"package_id" json:"package_id"`
	SubscriptionStart  *time.Time         `db:"subscription_start" json:"subscription_start,omitempty"`
	SubscriptionExpiry *time.Time         `db:"subscription_expiry" json:"subscription_expiry,omitempty"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	BotStatus      BotStatus       `db:"bot_status" json:"bot_status"`
	ActiveBotID    *string         `db:"active_bot_id" json:"active_bot_id,omitempty"`
	BotActivatedAt *time.Time      `db:"bot_activated_at" json:"bot_activated_at,omitempty"`
	TradeConfigRaw json.RawMessage `db:"trade_config" json:"-"`

	DDBlocked     bool       `db:"dd_blocked" json:"dd_blocked"`
	DDBlockReason *string    `db:"dd_block_reason" json:"dd_block_reason,omitempty"`
	DDBlockedAt   *time.Time `db:"dd_blocked_at" json:"dd_blocked_at,omitempty"`

	CurrentPeriodResetCount int        `db:"current_period_reset_count" json:"current_period_reset_count"`
	LastMT5ResetAt          *time.Time `db:"last_mt5_reset_at" json:"last_mt5_reset_at,omitempty"`

	CurrentBalance decimal.Decimal `db:"current_balance" json:"current_balance"`
	PeakBalance    decimal.Decimal `db:"peak_balance" json:"peak_balance"`

	LastSyncAt *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

func (a *TradeAccount) TradeConfig() TradeConfig {
	var cfg TradeConfig
	if len(a.TradeConfigRaw) > 0 {
		_ = json.Unmarshal(a.TradeConfigRaw, &cfg)
	}
	return cfg
}

// SubscriptionLive reports whether the bot should keep trading on this
// account: an ACTIVE subscription whose expiry is still ahead of now.
func (a *TradeAccount) SubscriptionLive(now time.Time) bool {
	return a.SubscriptionStatus == SubscriptionActive &&
		a.SubscriptionExpiry != nil &&
		a.SubscriptionExpiry.After(now)
}

func (a *TradeAccount) DaysRemaining(now time.Time) int {
	if a.SubscriptionExpiry == nil {
		return 0
	}
	days := int(a.SubscriptionExpiry.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

type Package struct {
	ID                 string          `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	DurationDays       int             `db:"duration_days" json:"duration_days"`
	PriceMinor         int64           `db:"price_minor" json:"price_minor"`
	MaxAccounts        int             `db:"max_accounts" json:"max_accounts"`
	ReferralPercentage decimal.Decimal `db:"referral_percentage" json:"referral_percentage"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

type Payment struct {
	ID             string          `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	TradeAccountID *string         `db:"trade_account_id" json:"trade_account_id,omitempty"`
	PackageID      string          `db:"package_id" json:"package_id"`
	RequestType    RequestType     `db:"request_type" json:"request_type"`
	PaymentStatus  PaymentStatus   `db:"payment_status" json:"payment_status"`
	AmountMinor    int64           `db:"amount_minor" json:"amount_minor"`
	NewMT5DataRaw  json.RawMessage `db:"new_mt5_data" json:"-"`
	ReferralCodeID *string         `db:"referral_code_id" json:"referral_code_id,omitempty"`
	VerifiedBy     *string         `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt     *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// NewMT5Data is the credential payload an MT5_RESET payment carries. Only
// non-nil fields overwrite the account row.
type NewMT5Data struct {
	AccountName  *string `json:"account_name,omitempty"`
	MT5AccountID *string `json:"mt5_account_id,omitempty"`
	MT5Password  *string `json:"mt5_password,omitempty"`
	MT5Server    *string `json:"mt5_server,omitempty"`
	BrokerName   *string `json:"broker_name,omitempty"`
}

func (p *Payment) NewMT5Data() (NewMT5Data, error) {
	var data NewMT5Data
	if len(p.NewMT5DataRaw) == 0 {
		return data, nil
	}
	err := json.Unmarshal(p.NewMT5DataRaw, &data)
	return data, err
}

type Strategy struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Version        string          `db:"version" json:"version"`
	StrategyType   string          `db:"strategy_type" json:"strategy_type"`
	Status         StrategyStatus  `db:"status" json:"status"`
	AllowedSymbols json.RawMessage `db:"allowed_symbols" json:"-"`
	ParametersRaw  json.RawMessage `db:"current_parameters" json:"-"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

func (s *Strategy) Symbols() []string {
	var symbols []string
	if len(s.AllowedSymbols) > 0 {
		_ = json.Unmarshal(s.AllowedSymbols, &symbols)
	}
	return symbols
}

func (s *Strategy) ParametersBySymbol() map[string]json.RawMessage {
	params := map[string]json.RawMessage{}
	if len(s.ParametersRaw) > 0 {
		_ = json.Unmarshal(s.ParametersRaw, &params)
	}
	return params
}

type BotAPIKey struct {
	ID        string     `db:"id" json:"id"`
	Key       string     `db:"key" json:"-"`
	Name      string     `db:"name" json:"name"`
	LastUsed  *time.Time `db:"last_used" json:"last_used,omitempty"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// AccountQuota records how many trade-account slots a completed purchase
// granted. A user's slot budget is the sum over their quota rows.
type AccountQuota struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	PaymentID string    `db:"payment_id" json:"payment_id"`
	Slots     int       `db:"slots" json:"slots"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ReferralCode struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Code      string    `db:"code" json:"code"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type AuditLog struct {
	ID         int64     `db:"id" json:"id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Data       string    `db:"data" json:"data"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type ReferralEarning struct {
	ID          string    `db:"id" json:"id"`
	ReferrerID  string    `db:"referrer_id" json:"referrer_id"`
	RefereeID   string    `db:"referee_id" json:"referee_id"`
	PaymentID   string    `db:"payment_id" json:"payment_id"`
	CreditMinor int64     `db:"credit_minor" json:"credit_minor"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type PositionType string

const (
	PositionBuy  PositionType = "BUY"
	PositionSell PositionType = "SELL"
)

func ValidPositionType(s string) bool {
	return PositionType(s) == PositionBuy || PositionType(s) == PositionSell
}

type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"
	PositionPending PositionStatus = "PENDING"
)

func ValidPositionStatus(s string) bool {
	switch PositionStatus(s) {
	case PositionOpen, PositionClosed, PositionPending:
		return true
	}
	return false
}

type Trade struct {
	ID             string           `db:"id" json:"id"`
	TradeAccountID string           `db:"trade_account_id" json:"trade_account_id"`
	MT5OrderID     int64            `db:"mt5_order_id" json:"mt5_order_id"`
	Symbol         string           `db:"symbol" json:"symbol"`
	PositionType   PositionType     `db:"position_type" json:"position_type"`
	PositionStatus PositionStatus   `db:"position_status" json:"position_status"`
	OpenedAt       time.Time        `db:"opened_at" json:"opened_at"`
	ClosedAt       *time.Time       `db:"closed_at" json:"closed_at,omitempty"`
	EntryPrice     decimal.Decimal  `db:"entry_price" json:"entry_price"`
	ExitPrice      *decimal.Decimal `db:"exit_price" json:"exit_price,omitempty"`
	TakeProfit     *decimal.Decimal `db:"take_profit" json:"take_profit,omitempty"`
	StopLoss       *decimal.Decimal `db:"stop_loss" json:"stop_loss,omitempty"`
	LotSize        decimal.Decimal  `db:"lot_size" json:"lot_size"`
	ProfitLoss     decimal.Decimal  `db:"profit_loss" json:"profit_loss"`
	Commission     decimal.Decimal  `db:"commission" json:"commission"`
	SwapFee        decimal.Decimal  `db:"swap_fee" json:"swap_fee"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}
