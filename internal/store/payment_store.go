package store

import (
	"context"
	"time"

	"fxbilling/internal/models"
)

type PaymentStore struct {
	db DB
}

func NewPaymentStore(db DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `
	id, user_id, trade_account_id, package_id, request_type, payment_status,
	amount_minor, new_mt5_data, referral_code_id, verified_by, verified_at, created_at
`

func (s *PaymentStore) Create(ctx context.Context, tx Execer, payment models.Payment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, user_id, trade_account_id, package_id, request_type,
			payment_status, amount_minor, new_mt5_data, referral_code_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, payment.ID, payment.UserID, payment.TradeAccountID, payment.PackageID,
		payment.RequestType, payment.PaymentStatus, payment.AmountMinor,
		nullableRaw(payment.NewMT5DataRaw), payment.ReferralCodeID)
	return err
}

func (s *PaymentStore) GetByID(ctx context.Context, id string) (models.Payment, error) {
	var row models.Payment
	err := s.db.GetContext(ctx, &row, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id)
	return row, err
}

// GetForUpdate locks the payment row for the duration of a status
// transition so a duplicated review request serializes instead of
// double-applying.
func (s *PaymentStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.Payment, error) {
	var row models.Payment
	err := tx.GetContext(ctx, &row, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return row, err
}

func (s *PaymentStore) UpdateStatus(ctx context.Context, tx Execer, id string, status models.PaymentStatus, verifiedBy *string, verifiedAt *time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET payment_status = $1, verified_by = $2, verified_at = $3
		WHERE id = $4
	`, status, verifiedBy, verifiedAt, id)
	return err
}

func (s *PaymentStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Payment, error) {
	var rows []models.Payment
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// HasCompletedPurchase reports whether the user has any earlier completed
// PURCHASE payment; the first one mints their referral code.
func (s *PaymentStore) HasCompletedPurchase(ctx context.Context, tx Getter, userID, excludePaymentID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM payments
			WHERE user_id = $1
			  AND request_type = 'PURCHASE'
			  AND payment_status = 'COMPLETED'
			  AND id <> $2
		)
	`, userID, excludePaymentID)
	return exists, err
}

func nullableRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
