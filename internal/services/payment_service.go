package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"fxbilling/internal/db"
	"fxbilling/internal/models"
	"fxbilling/internal/money"
	"fxbilling/internal/store"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrAccountNotFound    = errors.New("trade account not found")
	ErrInvalidStatus      = errors.New("invalid payment status")
	ErrInvalidTransition  = errors.New("payment status transition not allowed")
	ErrMissingAccount     = errors.New("payment has no trade account")
	ErrMissingCredentials = errors.New("reset payment carries no credentials")
)

// Transitions are one-directional: once COMPLETED a payment can only move to
// REFUNDED, and FAILED can be reopened for another review attempt. A review
// that sets the current status again is a silent no-op, handled before this
// table is consulted.
var allowedTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentPending:   {models.PaymentCompleted, models.PaymentFailed},
	models.PaymentCompleted: {models.PaymentRefunded},
	models.PaymentFailed:    {models.PaymentPending},
	models.PaymentRefunded:  {},
}

type PaymentStore interface {
	Create(ctx context.Context, tx store.Execer, payment models.Payment) error
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.Payment, error)
	UpdateStatus(ctx context.Context, tx store.Execer, id string, status models.PaymentStatus, verifiedBy *string, verifiedAt *time.Time) error
	HasCompletedPurchase(ctx context.Context, tx store.Getter, userID, excludePaymentID string) (bool, error)
}

type AccountStore interface {
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.TradeAccount, error)
	UpdateSubscription(ctx context.Context, tx store.Execer, id string, status models.SubscriptionStatus, start, expiry *time.Time, packageID string, resetCount int) error
	UpdateSubscriptionStatus(ctx context.Context, tx store.Execer, id string, status models.SubscriptionStatus) error
	UpdateCredentials(ctx context.Context, tx store.Execer, account models.TradeAccount) error
}

type PackageStore interface {
	GetByID(ctx context.Context, id string) (models.Package, error)
}

type QuotaStore interface {
	Grant(ctx context.Context, tx store.Execer, quota models.AccountQuota) error
}

type ReferralStore interface {
	GetCodeByID(ctx context.Context, id string) (models.ReferralCode, error)
	GetCodeByCode(ctx context.Context, code string) (models.ReferralCode, error)
	CreateCode(ctx context.Context, tx store.Execer, code models.ReferralCode) error
	HasEarningForPayment(ctx context.Context, tx store.Getter, paymentID string) (bool, error)
	CreateEarning(ctx context.Context, tx store.Execer, earning models.ReferralEarning) error
	EnsureLedger(ctx context.Context, tx store.Execer, id, userID string) error
	AppendCredit(ctx context.Context, tx store.Execer, entryID, userID string, amountMinor int64, description string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

// Syncer is the cache side of a payment review. All calls happen after the
// transaction commits; a failed cache write never rolls back billing state.
type Syncer interface {
	AccountCreated(ctx context.Context, account *models.TradeAccount)
	AccountSaved(ctx context.Context, account *models.TradeAccount, changed []string)
	AccountIdentityChanged(ctx context.Context, oldMT5AccountID string)
}

// PaymentService applies reviewed payment-status changes and their side
// effects in one serializable transaction per review.
type PaymentService struct {
	txRunner  db.TxRunner
	payments  PaymentStore
	accounts  AccountStore
	packages  PackageStore
	quotas    QuotaStore
	referrals ReferralStore
	audit     AuditStore
	sync      Syncer
	logger    *slog.Logger
}

func NewPaymentService(txRunner db.TxRunner, payments PaymentStore, accounts AccountStore, packages PackageStore, quotas QuotaStore, referrals ReferralStore, audit AuditStore, sync Syncer, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		txRunner:  txRunner,
		payments:  payments,
		accounts:  accounts,
		packages:  packages,
		quotas:    quotas,
		referrals: referrals,
		audit:     audit,
		sync:      sync,
		logger:    logger,
	}
}

var (
	ErrInvalidRequestType  = errors.New("invalid payment request type")
	ErrUnknownReferralCode = errors.New("unknown referral code")
)

type SubmitRequest struct {
	UserID         string
	TradeAccountID *string
	PackageID      string
	RequestType    models.RequestType
	ReferralCode   *string
	NewMT5Data     *models.NewMT5Data
}

// Submit records a PENDING payment for later admin review. The amount is the
// package's current price; account state stays untouched until the review
// completes the payment.
func (s *PaymentService) Submit(ctx context.Context, req SubmitRequest) (models.Payment, error) {
	if !models.ValidRequestType(string(req.RequestType)) {
		return models.Payment{}, ErrInvalidRequestType
	}
	if req.RequestType != models.RequestPurchase && req.TradeAccountID == nil {
		return models.Payment{}, ErrMissingAccount
	}
	if req.RequestType == models.RequestMT5Reset && req.NewMT5Data == nil {
		return models.Payment{}, ErrMissingCredentials
	}
	pkg, err := s.packages.GetByID(ctx, req.PackageID)
	if err != nil {
		return models.Payment{}, err
	}

	payment := models.Payment{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		TradeAccountID: req.TradeAccountID,
		PackageID:      pkg.ID,
		RequestType:    req.RequestType,
		PaymentStatus:  models.PaymentPending,
		AmountMinor:    pkg.PriceMinor,
	}
	if req.ReferralCode != nil && *req.ReferralCode != "" {
		code, err := s.referrals.GetCodeByCode(ctx, *req.ReferralCode)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Payment{}, ErrUnknownReferralCode
		}
		if err != nil {
			return models.Payment{}, err
		}
		payment.ReferralCodeID = &code.ID
	}
	if req.NewMT5Data != nil {
		raw, err := json.Marshal(req.NewMT5Data)
		if err != nil {
			return models.Payment{}, err
		}
		payment.NewMT5DataRaw = raw
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if req.TradeAccountID != nil {
			account, err := s.accounts.GetForUpdate(ctx, tx, *req.TradeAccountID)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			if err != nil {
				return err
			}
			if account.UserID != req.UserID {
				return ErrNotAccountOwner
			}
		}
		if err := s.payments.Create(ctx, tx, payment); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.UserID, "payment_submit", "payment", payment.ID, "{}")
	})
	if err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}

type ReviewRequest struct {
	PaymentID  string
	NewStatus  models.PaymentStatus
	ReviewerID string
}

// syncAction is a cache effect recorded inside the transaction and executed
// only after it commits.
type syncAction struct {
	account *models.TradeAccount
	changed []string
	oldID   string
}

// Review moves a payment to req.NewStatus and applies the side effects of the
// new status for the payment's request type. Re-applying the current status
// is a no-op, which makes review submission safe to retry.
func (s *PaymentService) Review(ctx context.Context, req ReviewRequest) error {
	if !models.ValidPaymentStatus(string(req.NewStatus)) {
		return ErrInvalidStatus
	}
	var actions []syncAction
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		actions = actions[:0]
		payment, err := s.payments.GetForUpdate(ctx, tx, req.PaymentID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if payment.PaymentStatus == req.NewStatus {
			s.logger.Info("payment already in requested status",
				slog.String("payment", payment.ID), slog.String("status", string(req.NewStatus)))
			return nil
		}
		if !transitionAllowed(payment.PaymentStatus, req.NewStatus) {
			return ErrInvalidTransition
		}

		now := time.Now()
		switch req.NewStatus {
		case models.PaymentCompleted:
			if err := s.applyCompleted(ctx, tx, &payment, now, &actions); err != nil {
				return err
			}
			if err := s.payments.UpdateStatus(ctx, tx, payment.ID, req.NewStatus, &req.ReviewerID, &now); err != nil {
				return err
			}
		case models.PaymentRefunded:
			if err := s.applyRefunded(ctx, tx, &payment, &actions); err != nil {
				return err
			}
			if err := s.payments.UpdateStatus(ctx, tx, payment.ID, req.NewStatus, payment.VerifiedBy, payment.VerifiedAt); err != nil {
				return err
			}
		default:
			// FAILED and the FAILED -> PENDING reopen touch nothing but the row.
			if err := s.payments.UpdateStatus(ctx, tx, payment.ID, req.NewStatus, nil, nil); err != nil {
				return err
			}
		}

		data, _ := json.Marshal(map[string]string{
			"from": string(payment.PaymentStatus),
			"to":   string(req.NewStatus),
			"type": string(payment.RequestType),
		})
		return s.audit.Log(ctx, tx, req.ReviewerID, "payment_review", "payment", payment.ID, string(data))
	})
	if err != nil {
		return err
	}
	for _, action := range actions {
		if action.oldID != "" {
			s.sync.AccountIdentityChanged(ctx, action.oldID)
		}
		if action.account != nil {
			s.sync.AccountSaved(ctx, action.account, action.changed)
		}
	}
	return nil
}

func (s *PaymentService) applyCompleted(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, now time.Time, actions *[]syncAction) error {
	pkg, err := s.packages.GetByID(ctx, payment.PackageID)
	if err != nil {
		return err
	}

	switch payment.RequestType {
	case models.RequestPurchase:
		if err := s.quotas.Grant(ctx, tx, models.AccountQuota{
			ID:        uuid.NewString(),
			UserID:    payment.UserID,
			PaymentID: payment.ID,
			Slots:     pkg.MaxAccounts,
		}); err != nil {
			return err
		}
		if payment.TradeAccountID != nil {
			account, err := s.accounts.GetForUpdate(ctx, tx, *payment.TradeAccountID)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			if err != nil {
				return err
			}
			start := now
			expiry := now.AddDate(0, 0, pkg.DurationDays)
			if err := s.accounts.UpdateSubscription(ctx, tx, account.ID, models.SubscriptionActive, &start, &expiry, pkg.ID, 0); err != nil {
				return err
			}
			account.SubscriptionStatus = models.SubscriptionActive
			account.SubscriptionStart = &start
			account.SubscriptionExpiry = &expiry
			account.PackageID = pkg.ID
			account.CurrentPeriodResetCount = 0
			*actions = append(*actions, syncAction{account: &account, changed: []string{"subscription_status"}})
		}
		if err := s.mintReferralCode(ctx, tx, payment); err != nil {
			return err
		}

	case models.RequestRenewal:
		if payment.TradeAccountID == nil {
			return ErrMissingAccount
		}
		account, err := s.accounts.GetForUpdate(ctx, tx, *payment.TradeAccountID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		// Early renewal extends from the current expiry; a lapsed
		// subscription starts a fresh period from now.
		base := now
		start := account.SubscriptionStart
		if account.SubscriptionExpiry != nil && account.SubscriptionExpiry.After(now) {
			base = *account.SubscriptionExpiry
		} else {
			start = &now
		}
		if start == nil {
			start = &now
		}
		expiry := base.AddDate(0, 0, pkg.DurationDays)
		if err := s.accounts.UpdateSubscription(ctx, tx, account.ID, models.SubscriptionActive, start, &expiry, pkg.ID, 0); err != nil {
			return err
		}
		account.SubscriptionStatus = models.SubscriptionActive
		account.SubscriptionStart = start
		account.SubscriptionExpiry = &expiry
		account.PackageID = pkg.ID
		account.CurrentPeriodResetCount = 0
		*actions = append(*actions, syncAction{account: &account, changed: []string{"subscription_status"}})

	case models.RequestMT5Reset:
		if payment.TradeAccountID == nil {
			return ErrMissingAccount
		}
		account, err := s.accounts.GetForUpdate(ctx, tx, *payment.TradeAccountID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		data, err := payment.NewMT5Data()
		if err != nil {
			return err
		}
		if data == (models.NewMT5Data{}) {
			return ErrMissingCredentials
		}
		oldMT5ID := account.MT5AccountID
		applyMT5Data(&account, data)
		account.CurrentPeriodResetCount++
		account.LastMT5ResetAt = &now
		// The new terminal must be verified before the bot trades again.
		account.BotStatus = models.BotPaused
		if err := s.accounts.UpdateCredentials(ctx, tx, account); err != nil {
			return err
		}
		action := syncAction{account: &account, changed: []string{"bot_status"}}
		if account.MT5AccountID != oldMT5ID {
			action.oldID = oldMT5ID
		}
		*actions = append(*actions, action)
	}

	return s.creditReferrer(ctx, tx, payment, pkg)
}

func (s *PaymentService) applyRefunded(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, actions *[]syncAction) error {
	if payment.TradeAccountID == nil {
		return nil
	}
	account, err := s.accounts.GetForUpdate(ctx, tx, *payment.TradeAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.accounts.UpdateSubscriptionStatus(ctx, tx, account.ID, models.SubscriptionCancelled); err != nil {
		return err
	}
	account.SubscriptionStatus = models.SubscriptionCancelled
	*actions = append(*actions, syncAction{account: &account, changed: []string{"subscription_status"}})
	return nil
}

// creditReferrer pays out one referral commission per completed payment.
// The per-payment earning row is the idempotency guard: a FAILED -> PENDING
// -> COMPLETED replay finds the earning and skips.
func (s *PaymentService) creditReferrer(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, pkg models.Package) error {
	if payment.ReferralCodeID == nil {
		return nil
	}
	code, err := s.referrals.GetCodeByID(ctx, *payment.ReferralCodeID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("referral code vanished", slog.String("payment", payment.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if code.UserID == payment.UserID {
		s.logger.Warn("self-referral skipped", slog.String("payment", payment.ID), slog.String("user", payment.UserID))
		return nil
	}
	exists, err := s.referrals.HasEarningForPayment(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	credit := money.PercentOfMinor(pkg.PriceMinor, pkg.ReferralPercentage)
	if credit <= 0 {
		return nil
	}
	if err := s.referrals.CreateEarning(ctx, tx, models.ReferralEarning{
		ID:          uuid.NewString(),
		ReferrerID:  code.UserID,
		RefereeID:   payment.UserID,
		PaymentID:   payment.ID,
		CreditMinor: credit,
	}); err != nil {
		return err
	}
	if err := s.referrals.EnsureLedger(ctx, tx, uuid.NewString(), code.UserID); err != nil {
		return err
	}
	return s.referrals.AppendCredit(ctx, tx, uuid.NewString(), code.UserID,
		credit, "Referral commission "+money.FormatMinor(credit))
}

// mintReferralCode gives a user their own code and an empty credit ledger on
// their first completed purchase. The unique user_id constraints absorb
// replays.
func (s *PaymentService) mintReferralCode(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	already, err := s.payments.HasCompletedPurchase(ctx, tx, payment.UserID, payment.ID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if err := s.referrals.CreateCode(ctx, tx, models.ReferralCode{
		ID:     uuid.NewString(),
		UserID: payment.UserID,
		Code:   newReferralCode(),
	}); err != nil {
		return err
	}
	return s.referrals.EnsureLedger(ctx, tx, uuid.NewString(), payment.UserID)
}

func applyMT5Data(account *models.TradeAccount, data models.NewMT5Data) {
	if data.AccountName != nil {
		account.AccountName = *data.AccountName
	}
	if data.MT5AccountID != nil {
		account.MT5AccountID = *data.MT5AccountID
	}
	if data.MT5Password != nil {
		account.MT5Password = *data.MT5Password
	}
	if data.MT5Server != nil {
		account.MT5Server = *data.MT5Server
	}
	if data.BrokerName != nil {
		account.BrokerName = *data.BrokerName
	}
}

func transitionAllowed(from, to models.PaymentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
