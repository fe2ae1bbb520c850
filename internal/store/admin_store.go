package store

import (
	"context"
	"database/sql"
	"errors"
)

// AdminStore backs the payment-reviewer gate.
type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

type adminRow struct {
	UserID  string `db:"user_id"`
	IsSuper bool   `db:"is_super"`
}

func (s *AdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	var row adminRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, is_super
		FROM admins
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, row.IsSuper, nil
}

func (s *AdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM admin_roles
			WHERE user_id = $1 AND role = $2
		)
	`, userID, role)
	return exists, err
}

func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, userID string, isSuper bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, is_super)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, isSuper)
	return err
}
