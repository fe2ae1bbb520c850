package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fxbilling/internal/middleware"
	"fxbilling/internal/models"
	"fxbilling/internal/services"
	"fxbilling/internal/validator"
)

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accounts, err := h.accountSvc.ListByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load accounts")
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	account, err := h.accountSvc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		switch err {
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		case services.ErrNotAccountOwner:
			respondError(w, http.StatusForbidden, "account_access_denied")
		default:
			respondError(w, http.StatusInternalServerError, "unable to load account")
		}
		return
	}
	respondJSON(w, http.StatusOK, account)
}

type createAccountRequest struct {
	AccountName  string `json:"account_name"`
	MT5AccountID string `json:"mt5_account_id"`
	MT5Password  string `json:"mt5_password"`
	MT5Server    string `json:"mt5_server"`
	BrokerName   string `json:"broker_name"`
	SymbolSuffix string `json:"symbol_suffix"`
	PackageID    string `json:"package_id"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateAccountName(req.AccountName); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateMT5AccountID(req.MT5AccountID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MT5Server == "" || req.PackageID == "" {
		respondError(w, http.StatusBadRequest, "mt5_server and package_id are required")
		return
	}
	account, err := h.accountSvc.CreateAccount(r.Context(), services.CreateAccountRequest{
		UserID:       userID,
		AccountName:  req.AccountName,
		MT5AccountID: req.MT5AccountID,
		MT5Password:  req.MT5Password,
		MT5Server:    req.MT5Server,
		BrokerName:   req.BrokerName,
		SymbolSuffix: req.SymbolSuffix,
		PackageID:    req.PackageID,
	})
	if err != nil {
		switch err {
		case services.ErrQuotaExhausted:
			respondError(w, http.StatusForbidden, "quota_exhausted")
		case services.ErrDuplicateMT5ID:
			respondError(w, http.StatusConflict, "mt5_account_exists")
		default:
			respondError(w, http.StatusInternalServerError, "account_create_failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, account)
}

type botConfigRequest struct {
	ActiveBotID *string            `json:"active_bot_id"`
	TradeConfig models.TradeConfig `json:"trade_config"`
}

func (h *Handler) UpdateBotConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req botConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := h.accountSvc.UpdateBotConfig(r.Context(), services.BotConfigUpdate{
		UserID:      userID,
		AccountID:   chi.URLParam(r, "id"),
		ActiveBotID: req.ActiveBotID,
		TradeConfig: req.TradeConfig,
	})
	if err != nil {
		switch err {
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		case services.ErrNotAccountOwner:
			respondError(w, http.StatusForbidden, "account_access_denied")
		case services.ErrStrategyNotFound:
			respondError(w, http.StatusBadRequest, "strategy_not_found")
		case services.ErrStrategyInactive:
			respondError(w, http.StatusBadRequest, "strategy_inactive")
		case services.ErrStrategyMismatch:
			respondError(w, http.StatusBadRequest, "enabled_strategies_mismatch")
		default:
			respondError(w, http.StatusInternalServerError, "config_update_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) ListAccountTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	account, err := h.accountSvc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		switch err {
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		case services.ErrNotAccountOwner:
			respondError(w, http.StatusForbidden, "account_access_denied")
		default:
			respondError(w, http.StatusInternalServerError, "unable to load account")
		}
		return
	}
	query := r.URL.Query()
	status := models.PositionStatus(query.Get("status"))
	limit := parseInt(query.Get("limit"), 100)
	trades, err := h.trades.ListByAccount(r.Context(), account.ID, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load trades")
		return
	}
	stats, err := h.trades.Stats(r.Context(), account.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load trade stats")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"stats":  stats,
	})
}
