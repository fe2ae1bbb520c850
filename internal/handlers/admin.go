package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"fxbilling/internal/middleware"
	"fxbilling/internal/models"
	"fxbilling/internal/money"
	"fxbilling/internal/services"
)

func (h *Handler) ClearDDBlock(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := h.accountSvc.ClearDDBlock(r.Context(), adminID, chi.URLParam(r, "id"))
	if err != nil {
		if err == services.ErrAccountNotFound {
			respondError(w, http.StatusNotFound, "account_not_found")
			return
		}
		respondError(w, http.StatusInternalServerError, "dd_unblock_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

func (h *Handler) ExpireSubscriptions(w http.ResponseWriter, r *http.Request) {
	expired, err := h.accountSvc.ExpireOverdueSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "expire_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"expired": len(expired)})
}

type strategyUpdateRequest struct {
	Status         string                     `json:"status"`
	AllowedSymbols []string                   `json:"allowed_symbols"`
	Parameters     map[string]json.RawMessage `json:"parameters"`
}

func (h *Handler) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req strategyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := h.strategySvc.UpdateParameters(r.Context(), services.StrategyUpdate{
		ActorID:        adminID,
		StrategyID:     chi.URLParam(r, "id"),
		Status:         models.StrategyStatus(req.Status),
		AllowedSymbols: req.AllowedSymbols,
		Parameters:     req.Parameters,
	})
	if err != nil {
		switch err {
		case services.ErrStrategyNotFound:
			respondError(w, http.StatusNotFound, "strategy_not_found")
		case services.ErrInvalidStrategyStatus:
			respondError(w, http.StatusBadRequest, "invalid_status")
		default:
			respondError(w, http.StatusInternalServerError, "strategy_update_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.strategySvc.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load strategies")
		return
	}
	respondJSON(w, http.StatusOK, strategies)
}

type packageCreateRequest struct {
	Name               string          `json:"name"`
	DurationDays       int             `json:"duration_days"`
	Price              string          `json:"price"`
	MaxAccounts        int             `json:"max_accounts"`
	ReferralPercentage decimal.Decimal `json:"referral_percentage"`
}

// CreatePackage adds a subscription package to the catalog. Price arrives as
// a decimal string ("1500.00") and is stored in minor units.
func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req packageCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Name == "" || req.DurationDays <= 0 {
		respondError(w, http.StatusBadRequest, "name and duration_days required")
		return
	}
	priceMinor, err := money.ParseMinor(req.Price)
	if err != nil || priceMinor <= 0 {
		respondError(w, http.StatusBadRequest, "invalid price")
		return
	}
	if req.ReferralPercentage.IsNegative() || req.ReferralPercentage.GreaterThan(decimal.NewFromInt(100)) {
		respondError(w, http.StatusBadRequest, "invalid referral percentage")
		return
	}
	pkg := models.Package{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		DurationDays:       req.DurationDays,
		PriceMinor:         priceMinor,
		MaxAccounts:        max(req.MaxAccounts, 1),
		ReferralPercentage: req.ReferralPercentage,
		IsActive:           true,
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.packages.Create(r.Context(), tx, pkg)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create package")
		return
	}
	respondJSON(w, http.StatusCreated, pkg)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 100)
	offset := parseInt(query.Get("offset"), 0)
	logs, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
