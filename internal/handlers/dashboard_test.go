package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fxbilling/internal/cache"
	"fxbilling/internal/models"
)

func TestDashboardMarksStaleBotsDown(t *testing.T) {
	lastSeen := time.Now().UTC().Truncate(time.Second)
	handler := newTestHandler(handlerDeps{
		accounts: stubAccountReader{
			getByUserFn: func(context.Context, string) ([]models.TradeAccount, error) {
				return []models.TradeAccount{
					{ID: "acct-1", MT5AccountID: "11111111", BotStatus: models.BotActive, CurrentBalance: decimal.NewFromInt(900)},
					{ID: "acct-2", MT5AccountID: "22222222", BotStatus: models.BotActive, CurrentBalance: decimal.NewFromInt(500)},
				}, nil
			},
		},
		heartbeats: stubHeartbeatCache{
			readBatchFn: func(_ context.Context, ids []string) map[string]*cache.Heartbeat {
				return map[string]*cache.Heartbeat{
					"11111111": {
						LastSeen:       lastSeen,
						BotStatus:      "ACTIVE",
						CurrentBalance: decimal.NewFromFloat(1050.25),
						PeakBalance:    decimal.NewFromFloat(1100.00),
					},
					"22222222": nil,
				}
			},
		},
	})

	req := newAuthedRequest(t, http.MethodGet, "/dashboard", nil)
	rr := serveAuthed(handler.Dashboard, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Accounts []dashboardAccount `json:"accounts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Accounts) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(resp.Accounts))
	}
	live := resp.Accounts[0]
	if !live.Live || live.BotStatus != "ACTIVE" {
		t.Fatalf("expected first bot live and ACTIVE, got %+v", live)
	}
	if !live.CurrentBalance.Equal(decimal.NewFromFloat(1050.25)) {
		t.Fatalf("expected cached balance to win, got %s", live.CurrentBalance)
	}
	down := resp.Accounts[1]
	if down.Live || down.BotStatus != string(models.BotDown) {
		t.Fatalf("expected second bot DOWN despite row status, got %+v", down)
	}
}

func TestReferralSummaryBeforeFirstPurchase(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		referrals: stubReferralReader{
			getCodeByUserFn: func(context.Context, string) (models.ReferralCode, error) {
				return models.ReferralCode{}, sql.ErrNoRows
			},
		},
	})

	req := newAuthedRequest(t, http.MethodGet, "/referral", nil)
	rr := serveAuthed(handler.ReferralSummary, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		ReferralCode *string `json:"referral_code"`
		Balance      int64   `json:"credit_balance_minor"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ReferralCode != nil {
		t.Fatalf("expected nil referral code, got %v", *resp.ReferralCode)
	}
}

func TestReferralSummaryWithEarnings(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		referrals: stubReferralReader{
			getCodeByUserFn: func(context.Context, string) (models.ReferralCode, error) {
				return models.ReferralCode{Code: "AB12CD34"}, nil
			},
			creditBalanceFn: func(context.Context, string) (int64, error) {
				return 15000, nil
			},
		},
	})

	req := newAuthedRequest(t, http.MethodGet, "/referral", nil)
	rr := serveAuthed(handler.ReferralSummary, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		ReferralCode *string `json:"referral_code"`
		Balance      int64   `json:"credit_balance_minor"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ReferralCode == nil || *resp.ReferralCode != "AB12CD34" {
		t.Fatalf("expected code AB12CD34, got %v", resp.ReferralCode)
	}
	if resp.Balance != 15000 {
		t.Fatalf("expected balance 15000, got %d", resp.Balance)
	}
}

func TestWSStatusRejectsMissingToken(t *testing.T) {
	handler := newTestHandler(handlerDeps{})

	req := newAuthedRequest(t, http.MethodGet, "/ws/status", nil)
	req.Header.Del("Authorization")
	rr := serveUnauthed(handler.WSStatus, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWSStatusRejectsBadToken(t *testing.T) {
	handler := newTestHandler(handlerDeps{})

	req := newAuthedRequest(t, http.MethodGet, "/ws/status?token=garbage", nil)
	req.Header.Del("Authorization")
	rr := serveUnauthed(handler.WSStatus, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
