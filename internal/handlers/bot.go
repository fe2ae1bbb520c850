package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fxbilling/internal/models"
	"fxbilling/internal/services"
	"fxbilling/internal/validator"
)

type heartbeatRequest struct {
	AccountID      string  `json:"account_id"`
	BotStatus      *string `json:"bot_status"`
	CurrentBalance *string `json:"current_balance"`
}

func (h *Handler) BotHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if err := validator.ValidateMT5AccountID(req.AccountID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	var balance *decimal.Decimal
	if req.CurrentBalance != nil && *req.CurrentBalance != "" {
		parsed, err := decimal.NewFromString(*req.CurrentBalance)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_balance")
			return
		}
		balance = &parsed
	}
	resp, err := h.botSvc.Heartbeat(r.Context(), services.HeartbeatRequest{
		MT5AccountID:   req.AccountID,
		BotStatus:      req.BotStatus,
		CurrentBalance: balance,
	})
	if err != nil {
		switch err {
		case services.ErrInvalidBotStatus:
			respondError(w, http.StatusBadRequest, "invalid_bot_status")
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		default:
			respondError(w, http.StatusInternalServerError, "heartbeat_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) BotAccountConfig(w http.ResponseWriter, r *http.Request) {
	mt5ID := chi.URLParam(r, "mt5_id")
	if err := validator.ValidateMT5AccountID(mt5ID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	cfg, err := h.botSvc.Config(r.Context(), mt5ID)
	if err != nil {
		if err == services.ErrAccountNotFound {
			respondError(w, http.StatusNotFound, "account_not_found")
			return
		}
		respondError(w, http.StatusInternalServerError, "config_lookup_failed")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

type orderRequest struct {
	MT5OrderID     int64   `json:"mt5_order_id"`
	Symbol         string  `json:"symbol"`
	PositionType   string  `json:"position_type"`
	PositionStatus string  `json:"position_status"`
	OpenedAt       string  `json:"opened_at"`
	ClosedAt       *string `json:"closed_at"`
	EntryPrice     string  `json:"entry_price"`
	ExitPrice      *string `json:"exit_price"`
	TakeProfit     *string `json:"take_profit"`
	StopLoss       *string `json:"stop_loss"`
	LotSize        string  `json:"lot_size"`
	ProfitLoss     string  `json:"profit_loss"`
	Commission     string  `json:"commission"`
	SwapFee        string  `json:"swap_fee"`
}

type ordersRequest struct {
	AccountID string         `json:"account_id"`
	Orders    []orderRequest `json:"orders"`
}

func (h *Handler) BotOrders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		orderRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	h.recordOrders(w, r, req.AccountID, []orderRequest{req.orderRequest})
}

func (h *Handler) BotOrdersBatch(w http.ResponseWriter, r *http.Request) {
	var req ordersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	h.recordOrders(w, r, req.AccountID, req.Orders)
}

func (h *Handler) recordOrders(w http.ResponseWriter, r *http.Request, accountID string, orders []orderRequest) {
	if err := validator.ValidateMT5AccountID(accountID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	trades := make([]models.Trade, 0, len(orders))
	for _, order := range orders {
		trade, err := tradeFromOrder(order)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_order")
			return
		}
		trades = append(trades, trade)
	}
	result, err := h.botSvc.RecordOrders(r.Context(), accountID, trades)
	if err != nil {
		switch err {
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		case services.ErrEmptyBatch:
			respondError(w, http.StatusBadRequest, "empty_batch")
		case services.ErrBatchTooLarge:
			respondError(w, http.StatusBadRequest, "batch_too_large")
		case services.ErrInvalidPositionType:
			respondError(w, http.StatusBadRequest, "invalid_position_type")
		default:
			respondError(w, http.StatusInternalServerError, "orders_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type ddBlockRequest struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

func (h *Handler) BotDDBlock(w http.ResponseWriter, r *http.Request) {
	var req ddBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := validator.ValidateMT5AccountID(req.AccountID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	if err := h.botSvc.ReportDDBlock(r.Context(), req.AccountID, req.Reason); err != nil {
		switch err {
		case services.ErrInvalidBlockReason:
			respondError(w, http.StatusBadRequest, "invalid_reason")
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account_not_found")
		default:
			respondError(w, http.StatusInternalServerError, "dd_block_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "blocked"})
}

func tradeFromOrder(order orderRequest) (models.Trade, error) {
	trade := models.Trade{
		MT5OrderID:     order.MT5OrderID,
		Symbol:         order.Symbol,
		PositionType:   models.PositionType(order.PositionType),
		PositionStatus: models.PositionStatus(order.PositionStatus),
	}
	if trade.PositionStatus == "" {
		trade.PositionStatus = models.PositionOpen
	}
	if !models.ValidPositionStatus(string(trade.PositionStatus)) {
		return models.Trade{}, errInvalidOrder
	}
	openedAt, err := time.Parse(time.RFC3339, order.OpenedAt)
	if err != nil {
		return models.Trade{}, errInvalidOrder
	}
	trade.OpenedAt = openedAt
	if order.ClosedAt != nil && *order.ClosedAt != "" {
		closedAt, err := time.Parse(time.RFC3339, *order.ClosedAt)
		if err != nil {
			return models.Trade{}, errInvalidOrder
		}
		trade.ClosedAt = &closedAt
	}
	if trade.EntryPrice, err = parseDecimal(order.EntryPrice); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	if trade.LotSize, err = parseDecimal(order.LotSize); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	if trade.ProfitLoss, err = parseDecimalOrZero(order.ProfitLoss); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	if trade.Commission, err = parseDecimalOrZero(order.Commission); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	if trade.SwapFee, err = parseDecimalOrZero(order.SwapFee); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	if trade.ExitPrice, err = parseOptionalDecimal(order.ExitPrice); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	if trade.TakeProfit, err = parseOptionalDecimal(order.TakeProfit); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	if trade.StopLoss, err = parseOptionalDecimal(order.StopLoss); err != nil {
		return models.Trade{}, errInvalidOrder
	}
	return trade, nil
}
