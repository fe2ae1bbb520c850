package store

import (
	"context"

	"fxbilling/internal/models"
)

// ReferralStore covers referral codes, per-payment earnings, and the
// referrer's credit ledger.
type ReferralStore struct {
	db DB
}

func NewReferralStore(db DB) *ReferralStore {
	return &ReferralStore{db: db}
}

func (s *ReferralStore) GetCodeByID(ctx context.Context, id string) (models.ReferralCode, error) {
	var row models.ReferralCode
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, code, created_at
		FROM referral_codes
		WHERE id = $1
	`, id)
	return row, err
}

func (s *ReferralStore) GetCodeByUser(ctx context.Context, userID string) (models.ReferralCode, error) {
	var row models.ReferralCode
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, code, created_at
		FROM referral_codes
		WHERE user_id = $1
	`, userID)
	return row, err
}

func (s *ReferralStore) GetCodeByCode(ctx context.Context, code string) (models.ReferralCode, error) {
	var row models.ReferralCode
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, code, created_at
		FROM referral_codes
		WHERE code = $1
	`, code)
	return row, err
}

func (s *ReferralStore) CreateCode(ctx context.Context, tx Execer, code models.ReferralCode) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO referral_codes (id, user_id, code)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, code.ID, code.UserID, code.Code)
	return err
}

// HasEarningForPayment is the idempotency guard for at-least-once delivery
// of the payment-completed event.
func (s *ReferralStore) HasEarningForPayment(ctx context.Context, tx Getter, paymentID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM referral_earnings WHERE payment_id = $1)
	`, paymentID)
	return exists, err
}

func (s *ReferralStore) CreateEarning(ctx context.Context, tx Execer, earning models.ReferralEarning) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO referral_earnings (id, referrer_id, referee_id, payment_id, credit_minor)
		VALUES ($1, $2, $3, $4, $5)
	`, earning.ID, earning.ReferrerID, earning.RefereeID, earning.PaymentID, earning.CreditMinor)
	return err
}

// EnsureLedger creates a zero-balance credit ledger for the user if none
// exists yet (first completed purchase).
func (s *ReferralStore) EnsureLedger(ctx context.Context, tx Execer, id, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_credits (id, user_id, balance_minor)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, id, userID)
	return err
}

// AppendCredit records one ledger entry and adjusts the running balance.
func (s *ReferralStore) AppendCredit(ctx context.Context, tx Execer, entryID, userID string, amountMinor int64, description string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_entries (id, user_id, amount_minor, description)
		VALUES ($1, $2, $3, $4)
	`, entryID, userID, amountMinor, description); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE user_credits
		SET balance_minor = balance_minor + $1, updated_at = NOW()
		WHERE user_id = $2
	`, amountMinor, userID)
	return err
}

func (s *ReferralStore) CreditBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `
		SELECT balance_minor
		FROM user_credits
		WHERE user_id = $1
	`, userID)
	return balance, err
}
