package store

import (
	"context"
	"encoding/json"

	"fxbilling/internal/models"
)

type StrategyStore struct {
	db DB
}

func NewStrategyStore(db DB) *StrategyStore {
	return &StrategyStore{db: db}
}

const strategyColumns = `
	id, name, version, strategy_type, status, allowed_symbols,
	current_parameters, is_active, created_at, updated_at
`

func (s *StrategyStore) GetByID(ctx context.Context, id string) (models.Strategy, error) {
	var row models.Strategy
	err := s.db.GetContext(ctx, &row, `
		SELECT `+strategyColumns+`
		FROM strategies
		WHERE id = $1 AND is_active = TRUE
	`, id)
	return row, err
}

func (s *StrategyStore) List(ctx context.Context) ([]models.Strategy, error) {
	var rows []models.Strategy
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+strategyColumns+`
		FROM strategies
		WHERE is_active = TRUE
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateParameters is the optimization pipeline's write path: new parameter
// set, status, and symbol list in one shot.
func (s *StrategyStore) UpdateParameters(ctx context.Context, tx Execer, id string, status models.StrategyStatus, allowedSymbols, parameters json.RawMessage) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE strategies
		SET status = $1, allowed_symbols = $2, current_parameters = $3, updated_at = NOW()
		WHERE id = $4 AND is_active = TRUE
	`, status, rawOrEmptyArray(allowedSymbols), rawOrEmptyObject(parameters), id)
	return err
}

func rawOrEmptyArray(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}
