package store

import (
	"context"

	"fxbilling/internal/models"
)

type QuotaStore struct {
	db DB
}

func NewQuotaStore(db DB) *QuotaStore {
	return &QuotaStore{db: db}
}

// Grant is idempotent per payment: re-delivering the same completed-payment
// event inserts nothing the second time.
func (s *QuotaStore) Grant(ctx context.Context, tx Execer, quota models.AccountQuota) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO account_quotas (id, user_id, payment_id, slots)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payment_id) DO NOTHING
	`, quota.ID, quota.UserID, quota.PaymentID, quota.Slots)
	return err
}

func (s *QuotaStore) HasGrantForPayment(ctx context.Context, tx Getter, paymentID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM account_quotas WHERE payment_id = $1)
	`, paymentID)
	return exists, err
}

// TotalSlots is the user's slot budget: sum of all granted quotas.
func (s *QuotaStore) TotalSlots(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(slots), 0)
		FROM account_quotas
		WHERE user_id = $1
	`, userID)
	return total, err
}
