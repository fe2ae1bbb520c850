package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fxbilling/internal/middleware"
	"fxbilling/internal/models"
	"fxbilling/internal/services"
)

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.packages.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load packages")
		return
	}
	respondJSON(w, http.StatusOK, packages)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	offset := parseInt(query.Get("offset"), 0)
	payments, err := h.payments.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load payments")
		return
	}
	respondJSON(w, http.StatusOK, payments)
}

type submitPaymentRequest struct {
	TradeAccountID *string            `json:"trade_account_id"`
	PackageID      string             `json:"package_id"`
	RequestType    string             `json:"request_type"`
	ReferralCode   *string            `json:"referral_code"`
	NewMT5Data     *models.NewMT5Data `json:"new_mt5_data"`
}

func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req submitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.PackageID == "" {
		respondError(w, http.StatusBadRequest, "package_id is required")
		return
	}
	payment, err := h.paymentSvc.Submit(r.Context(), services.SubmitRequest{
		UserID:         userID,
		TradeAccountID: req.TradeAccountID,
		PackageID:      req.PackageID,
		RequestType:    models.RequestType(req.RequestType),
		ReferralCode:   req.ReferralCode,
		NewMT5Data:     req.NewMT5Data,
	})
	if err != nil {
		switch err {
		case services.ErrInvalidRequestType:
			respondError(w, http.StatusBadRequest, "invalid_request_type")
		case services.ErrMissingAccount:
			respondError(w, http.StatusBadRequest, "trade_account_required")
		case services.ErrMissingCredentials:
			respondError(w, http.StatusBadRequest, "new_mt5_data_required")
		case services.ErrUnknownReferralCode:
			respondError(w, http.StatusBadRequest, "unknown_referral_code")
		case services.ErrNotAccountOwner:
			respondError(w, http.StatusForbidden, "account_access_denied")
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		default:
			respondError(w, http.StatusInternalServerError, "payment_submit_failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, payment)
}

type reviewPaymentRequest struct {
	Status string `json:"status"`
}

func (h *Handler) ReviewPayment(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req reviewPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := h.paymentSvc.Review(r.Context(), services.ReviewRequest{
		PaymentID:  chi.URLParam(r, "id"),
		NewStatus:  models.PaymentStatus(req.Status),
		ReviewerID: adminID,
	})
	if err != nil {
		switch err {
		case services.ErrPaymentNotFound:
			respondError(w, http.StatusNotFound, "payment_not_found")
		case services.ErrInvalidStatus:
			respondError(w, http.StatusBadRequest, "invalid_status")
		case services.ErrInvalidTransition:
			respondError(w, http.StatusConflict, "invalid_transition")
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		default:
			respondError(w, http.StatusInternalServerError, "payment_review_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reviewed"})
}
