package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"fxbilling/internal/models"
	"fxbilling/internal/services"
)

func TestBotHeartbeatSuccess(t *testing.T) {
	var got services.HeartbeatRequest
	handler := newTestHandler(handlerDeps{
		botSvc: stubBotService{
			heartbeatFn: func(_ context.Context, req services.HeartbeatRequest) (services.HeartbeatResponse, error) {
				got = req
				return services.HeartbeatResponse{ShouldContinue: true, ConfigVersion: 3}, nil
			},
		},
	})

	body := []byte(`{"account_id":"12345678","bot_status":"ACTIVE","current_balance":"1050.25"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.BotHeartbeat(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.MT5AccountID != "12345678" {
		t.Fatalf("expected account 12345678, got %q", got.MT5AccountID)
	}
	if got.CurrentBalance == nil || got.CurrentBalance.String() != "1050.25" {
		t.Fatalf("expected parsed balance 1050.25, got %v", got.CurrentBalance)
	}
}

func TestBotHeartbeatUnknownAccount(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		botSvc: stubBotService{
			heartbeatFn: func(context.Context, services.HeartbeatRequest) (services.HeartbeatResponse, error) {
				return services.HeartbeatResponse{}, services.ErrAccountNotFound
			},
		},
	})

	body := []byte(`{"account_id":"99999999"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.BotHeartbeat(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestBotHeartbeatBadBalance(t *testing.T) {
	handler := newTestHandler(handlerDeps{})

	body := []byte(`{"account_id":"12345678","current_balance":"not-a-number"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.BotHeartbeat(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBotAccountConfig(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		botSvc: stubBotService{
			configFn: func(_ context.Context, mt5 string) (services.AccountConfig, error) {
				if mt5 != "12345678" {
					t.Fatalf("expected mt5 id from route, got %q", mt5)
				}
				return services.AccountConfig{ConfigVersion: 2}, nil
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/account/12345678/config", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("mt5_id", "12345678")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	rr := httptest.NewRecorder()
	handler.BotAccountConfig(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestBotOrdersBatchParsesTrades(t *testing.T) {
	var gotTrades []models.Trade
	handler := newTestHandler(handlerDeps{
		botSvc: stubBotService{
			recordOrdersFn: func(_ context.Context, _ string, trades []models.Trade) (services.OrderResult, error) {
				gotTrades = trades
				return services.OrderResult{Created: len(trades)}, nil
			},
		},
	})

	body := []byte(`{"account_id":"12345678","orders":[
		{"mt5_order_id":101,"symbol":"XAUUSD","position_type":"BUY","opened_at":"2026-08-01T10:00:00Z","entry_price":"2412.50","lot_size":"0.10"},
		{"mt5_order_id":102,"symbol":"EURUSD","position_type":"SELL","position_status":"CLOSED","opened_at":"2026-08-01T11:00:00Z","closed_at":"2026-08-01T12:00:00Z","entry_price":"1.0850","exit_price":"1.0820","lot_size":"0.20","profit_loss":"60.00"}
	]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/batch", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.BotOrdersBatch(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(gotTrades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(gotTrades))
	}
	if gotTrades[0].PositionStatus != models.PositionOpen {
		t.Fatalf("expected missing status to default to OPEN, got %s", gotTrades[0].PositionStatus)
	}
	if gotTrades[1].ClosedAt == nil || gotTrades[1].ExitPrice == nil {
		t.Fatal("expected closed trade to carry closed_at and exit_price")
	}
}

func TestBotOrdersBatchTooLarge(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		botSvc: stubBotService{
			recordOrdersFn: func(context.Context, string, []models.Trade) (services.OrderResult, error) {
				return services.OrderResult{}, services.ErrBatchTooLarge
			},
		},
	})

	body := []byte(`{"account_id":"12345678","orders":[{"mt5_order_id":1,"symbol":"XAUUSD","position_type":"BUY","opened_at":"2026-08-01T10:00:00Z","entry_price":"1.0","lot_size":"0.1"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/batch", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.BotOrdersBatch(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBotOrdersRejectsBadTimestamp(t *testing.T) {
	handler := newTestHandler(handlerDeps{})

	body := []byte(`{"account_id":"12345678","mt5_order_id":1,"symbol":"XAUUSD","position_type":"BUY","opened_at":"yesterday","entry_price":"1.0","lot_size":"0.1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.BotOrders(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBotDDBlock(t *testing.T) {
	var gotReason string
	handler := newTestHandler(handlerDeps{
		botSvc: stubBotService{
			reportDDBlockFn: func(_ context.Context, _ string, reason string) error {
				gotReason = reason
				return nil
			},
		},
	})

	body := []byte(`{"account_id":"12345678","reason":"DAILY_LIMIT"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/dd-block", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.BotDDBlock(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotReason != "DAILY_LIMIT" {
		t.Fatalf("expected reason DAILY_LIMIT, got %q", gotReason)
	}
}
