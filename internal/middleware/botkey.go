package middleware

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fxbilling/internal/models"
)

type BotKeyStore interface {
	FindActive(ctx context.Context, key string) (models.BotAPIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

const botKeyNameKey contextKey = "bot_key_name"

func BotKeyFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(botKeyNameKey).(string)
	return name, ok
}

// BotKey validates the master bot API key before any business logic runs.
// One key serves the whole bot fleet; last_used is stamped per call. The
// stamp is best-effort: a failed stamp must not reject an otherwise valid
// request.
func BotKey(keys BotKeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing or invalid API key, use: Authorization: Bearer <key>", http.StatusUnauthorized)
				return
			}
			key, err := keys.FindActive(r.Context(), token)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					http.Error(w, "invalid or inactive API key", http.StatusUnauthorized)
					return
				}
				http.Error(w, "unable to verify API key", http.StatusInternalServerError)
				return
			}
			if err := keys.TouchLastUsed(r.Context(), key.ID, time.Now()); err != nil {
				logger.Error("stamp api key last_used failed", slog.String("key", key.Name), slog.Any("error", err))
			}
			ctx := context.WithValue(r.Context(), botKeyNameKey, key.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
