package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"fxbilling/internal/middleware"
	"fxbilling/internal/models"
	"fxbilling/internal/services"
	"fxbilling/internal/store"
)

func TestClearDDBlockSuccess(t *testing.T) {
	var gotAccount string
	handler := newTestHandler(handlerDeps{
		accountSvc: stubAccountService{
			clearDDBlockFn: func(_ context.Context, adminID, accountID string) error {
				if adminID != "user-1" {
					t.Fatalf("expected admin from token, got %q", adminID)
				}
				gotAccount = accountID
				return nil
			},
		},
	})

	req := newAuthedRequest(t, http.MethodPost, "/admin/accounts/acct-1/dd-unblock", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", "acct-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	rr := serveAuthed(handler.ClearDDBlock, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotAccount != "acct-1" {
		t.Fatalf("expected account from route, got %q", gotAccount)
	}
}

func TestExpireSubscriptionsReportsCount(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		accountSvc: stubAccountService{
			expireFn: func(context.Context) ([]string, error) {
				return []string{"11111111", "22222222"}, nil
			},
		},
	})

	req := newAuthedRequest(t, http.MethodPost, "/admin/subscriptions/expire", nil)
	rr := serveAuthed(handler.ExpireSubscriptions, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Expired int `json:"expired"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Expired != 2 {
		t.Fatalf("expected 2 expired, got %d", resp.Expired)
	}
}

func TestUpdateStrategyForwardsParameters(t *testing.T) {
	var got services.StrategyUpdate
	handler := newTestHandler(handlerDeps{
		strategySvc: stubStrategyService{
			updateFn: func(_ context.Context, req services.StrategyUpdate) error {
				got = req
				return nil
			},
		},
	})

	body := []byte(`{"status":"ACTIVE","allowed_symbols":["XAUUSD"],"parameters":{"rsi_period":14}}`)
	req := newAuthedRequest(t, http.MethodPut, "/admin/strategies/strat-1", body)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", "strat-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	rr := serveAuthed(handler.UpdateStrategy, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.StrategyID != "strat-1" || got.Status != models.StrategyActive {
		t.Fatalf("unexpected update request: %+v", got)
	}
	if string(got.Parameters["rsi_period"]) != "14" {
		t.Fatalf("expected raw parameter forwarded, got %s", got.Parameters["rsi_period"])
	}
}

func TestUpdateStrategyUnknown(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		strategySvc: stubStrategyService{
			updateFn: func(context.Context, services.StrategyUpdate) error {
				return services.ErrStrategyNotFound
			},
		},
	})

	body := []byte(`{"status":"ACTIVE"}`)
	req := newAuthedRequest(t, http.MethodPut, "/admin/strategies/strat-9", body)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", "strat-9")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	rr := serveAuthed(handler.UpdateStrategy, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminEndpointsRequireRole(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		admin: stubAdminStore{
			isAdminFn: func(context.Context, string) (bool, bool, error) { return true, false, nil },
			hasRoleFn: func(context.Context, string, string) (bool, error) { return false, nil },
		},
	})

	req := newAuthedRequest(t, http.MethodPost, "/admin/payments/pay-1/review", []byte(`{"status":"COMPLETED"}`))
	rr := serveAuthedWithRole(handler, handler.ReviewPayment, "CanReviewPayments", req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestListAuditLogs(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		audit: stubAuditReader{
			listFn: func(_ context.Context, limit, offset int) ([]models.AuditLog, error) {
				if limit != 100 || offset != 0 {
					t.Fatalf("expected default paging, got limit=%d offset=%d", limit, offset)
				}
				return []models.AuditLog{{Action: "payment_review"}}, nil
			},
		},
	})

	req := newAuthedRequest(t, http.MethodGet, "/admin/audit", nil)
	rr := serveAuthed(handler.ListAuditLogs, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func serveAuthedWithRole(h *Handler, handlerFunc http.HandlerFunc, role string, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(middleware.RequireAdmin(h.admin, role)(handlerFunc)).ServeHTTP(rr, req)
	return rr
}

func TestCreatePackageParsesPrice(t *testing.T) {
	var created models.Package
	handler := newTestHandler(handlerDeps{
		packages: stubPackageStore{
			createFn: func(_ context.Context, _ store.Execer, pkg models.Package) error {
				created = pkg
				return nil
			},
		},
	})

	body := []byte(`{"name":"Pro Monthly","duration_days":30,"price":"1500.50","max_accounts":2,"referral_percentage":10}`)
	req := newAuthedRequest(t, http.MethodPost, "/admin/packages", body)
	rr := serveAuthed(handler.CreatePackage, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if created.PriceMinor != 150050 {
		t.Fatalf("expected price in minor units, got %d", created.PriceMinor)
	}
	if created.ID == "" || !created.IsActive || created.MaxAccounts != 2 {
		t.Fatalf("unexpected package: %#v", created)
	}
}

func TestCreatePackageRejectsBadPrice(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		packages: stubPackageStore{
			createFn: func(context.Context, store.Execer, models.Package) error {
				t.Fatal("store must not be reached on a bad price")
				return nil
			},
		},
	})

	for _, price := range []string{"12.345", "abc", "", "-5.00"} {
		body := []byte(`{"name":"Pro","duration_days":30,"price":"` + price + `"}`)
		req := newAuthedRequest(t, http.MethodPost, "/admin/packages", body)
		rr := serveAuthed(handler.CreatePackage, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("price %q: expected 400, got %d", price, rr.Code)
		}
	}
}
