package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"fxbilling/internal/models"
)

func TestPackageCreateInsertsCatalogRow(t *testing.T) {
	s := NewPackageStore(stubDB{})
	tx := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO packages") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[3] != int64(150050) {
				t.Fatalf("expected price_minor bind, got %#v", args[3])
			}
			return stubResult{rows: 1}, nil
		},
	}
	err := s.Create(context.Background(), tx, models.Package{
		ID:                 "pkg-1",
		Name:               "Pro Monthly",
		DurationDays:       30,
		PriceMinor:         150050,
		MaxAccounts:        2,
		ReferralPercentage: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPackageListFiltersInactive(t *testing.T) {
	s := NewPackageStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, _ ...any) error {
			if !strings.Contains(query, "is_active = TRUE") {
				t.Fatalf("expected active filter: %s", query)
			}
			return nil
		},
	})
	if _, err := s.List(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
