package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"fxbilling/internal/auth"
	"fxbilling/internal/middleware"
	"fxbilling/internal/models"
	"fxbilling/internal/websocket"
)

type dashboardAccount struct {
	ID                 string          `json:"id"`
	AccountName        string          `json:"account_name"`
	MT5AccountID       string          `json:"mt5_account_id"`
	SubscriptionStatus string          `json:"subscription_status"`
	SubscriptionExpiry *time.Time      `json:"subscription_expiry,omitempty"`
	BotStatus          string          `json:"bot_status"`
	Live               bool            `json:"live"`
	LastSeen           *time.Time      `json:"last_seen,omitempty"`
	CurrentBalance     decimal.Decimal `json:"current_balance"`
	PeakBalance        decimal.Decimal `json:"peak_balance"`
	DDBlocked          bool            `json:"dd_blocked"`
	DDBlockReason      string          `json:"dd_block_reason,omitempty"`
}

// Dashboard merges the relational account rows with the liveness cache. A
// bot whose heartbeat key expired reports as DOWN even if the row still
// says RUNNING; the cached balance wins over the row's when present.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accounts, err := h.accounts.GetByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load accounts")
		return
	}
	ids := make([]string, len(accounts))
	for i, account := range accounts {
		ids[i] = account.MT5AccountID
	}
	heartbeats := h.heartbeats.ReadHeartbeatsBatch(r.Context(), ids)

	rows := make([]dashboardAccount, 0, len(accounts))
	for _, account := range accounts {
		row := dashboardAccount{
			ID:                 account.ID,
			AccountName:        account.AccountName,
			MT5AccountID:       account.MT5AccountID,
			SubscriptionStatus: string(account.SubscriptionStatus),
			SubscriptionExpiry: account.SubscriptionExpiry,
			BotStatus:          string(models.BotDown),
			CurrentBalance:     account.CurrentBalance,
			PeakBalance:        account.PeakBalance,
			DDBlocked:          account.DDBlocked,
		}
		if account.DDBlockReason != nil {
			row.DDBlockReason = *account.DDBlockReason
		}
		if hb := heartbeats[account.MT5AccountID]; hb != nil {
			lastSeen := hb.LastSeen
			row.Live = true
			row.LastSeen = &lastSeen
			row.BotStatus = hb.BotStatus
			row.CurrentBalance = hb.CurrentBalance
			row.PeakBalance = hb.PeakBalance
			row.DDBlocked = hb.DDBlocked
			row.DDBlockReason = hb.DDBlockReason
		}
		rows = append(rows, row)
	}
	respondJSON(w, http.StatusOK, map[string]any{"accounts": rows})
}

func (h *Handler) ReferralSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var code *string
	referral, err := h.referrals.GetCodeByUser(r.Context(), userID)
	switch {
	case err == nil:
		code = &referral.Code
	case errors.Is(err, sql.ErrNoRows):
		// No completed purchase yet, so no code minted.
	default:
		respondError(w, http.StatusInternalServerError, "unable to load referral code")
		return
	}
	balance, err := h.referrals.CreditBalance(r.Context(), userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusInternalServerError, "unable to load credit balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"referral_code":        code,
		"credit_balance_minor": balance,
	})
}

// WSStatus upgrades a dashboard connection to the live status feed. Browsers
// cannot set an Authorization header on a websocket handshake, so the JWT
// arrives as a query parameter instead.
func (h *Handler) WSStatus(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}
