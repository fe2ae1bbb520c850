package store

import (
	"context"
	"time"

	"fxbilling/internal/models"
)

type BotAPIKeyStore struct {
	db DB
}

func NewBotAPIKeyStore(db DB) *BotAPIKeyStore {
	return &BotAPIKeyStore{db: db}
}

// FindActive resolves a presented bearer key against the active-key table.
func (s *BotAPIKeyStore) FindActive(ctx context.Context, key string) (models.BotAPIKey, error) {
	var row models.BotAPIKey
	err := s.db.GetContext(ctx, &row, `
		SELECT id, key, name, last_used, is_active, created_at
		FROM bot_api_keys
		WHERE key = $1 AND is_active = TRUE
	`, key)
	return row, err
}

func (s *BotAPIKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bot_api_keys
		SET last_used = $1
		WHERE id = $2
	`, at, id)
	return err
}
