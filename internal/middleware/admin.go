package middleware

import (
	"context"
	"net/http"
)

// Role names stored in admin_roles. A super admin implicitly holds all of
// them.
const (
	RoleReviewPayments   = "CanReviewPayments"
	RoleManageAccounts   = "CanManageAccounts"
	RoleManageStrategies = "CanManageStrategies"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// RequireAdmin gates reviewer endpoints behind an admin row plus, when role
// is non-empty, a matching admin_roles entry. Runs after Auth.
func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := checkAdmin(r.Context(), adminStore, userID, role); err != nil {
				http.Error(w, err.message, err.status)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type adminCheckError struct {
	status  int
	message string
}

func checkAdmin(ctx context.Context, adminStore AdminStore, userID, role string) *adminCheckError {
	isAdmin, isSuper, err := adminStore.IsAdmin(ctx, userID)
	if err != nil {
		return &adminCheckError{http.StatusInternalServerError, "unable to verify admin"}
	}
	if !isAdmin {
		return &adminCheckError{http.StatusForbidden, "admin privileges required"}
	}
	if isSuper || role == "" {
		return nil
	}
	hasRole, err := adminStore.HasRole(ctx, userID, role)
	if err != nil {
		return &adminCheckError{http.StatusInternalServerError, "unable to verify role"}
	}
	if !hasRole {
		return &adminCheckError{http.StatusForbidden, "missing required role"}
	}
	return nil
}
