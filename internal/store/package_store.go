package store

import (
	"context"

	"fxbilling/internal/models"
)

type PackageStore struct {
	db DB
}

func NewPackageStore(db DB) *PackageStore {
	return &PackageStore{db: db}
}

func (s *PackageStore) Create(ctx context.Context, tx Execer, pkg models.Package) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO packages (id, name, duration_days, price_minor, max_accounts, referral_percentage)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pkg.ID, pkg.Name, pkg.DurationDays, pkg.PriceMinor, pkg.MaxAccounts, pkg.ReferralPercentage)
	return err
}

func (s *PackageStore) GetByID(ctx context.Context, id string) (models.Package, error) {
	var row models.Package
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, duration_days, price_minor, max_accounts,
		       referral_percentage, is_active, created_at
		FROM packages
		WHERE id = $1 AND is_active = TRUE
	`, id)
	return row, err
}

func (s *PackageStore) List(ctx context.Context) ([]models.Package, error) {
	var rows []models.Package
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, duration_days, price_minor, max_accounts,
		       referral_percentage, is_active, created_at
		FROM packages
		WHERE is_active = TRUE
		ORDER BY price_minor
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
