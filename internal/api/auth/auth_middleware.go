package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

// Define typed context keys
type contextKey string

const UserKey contextKey = "authUser"

// GetUserFromContext returns the authenticated user attached by Authenticate.
func GetUserFromContext(ctx context.Context) (*types.User, bool) {
	user, ok := ctx.Value(UserKey).(*types.User)
	return user, ok
}

// GetUserIDFromContext is a convenience wrapper over GetUserFromContext.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	user, ok := GetUserFromContext(ctx)
	if !ok {
		return "", false
	}
	return user.ID.String(), true
}

// Authenticate is middleware to validate bearer access tokens. A token passes
// only when its signature and claims verify AND a live session row exists for
// it, so logout and server-side revocation take effect immediately.
func Authenticate(authService AuthService, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			l := logger.With(slog.String("middleware", "Authenticate"))

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				l.WarnContext(ctx, "Missing Authorization header")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header required")
				return
			}

			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				l.WarnContext(ctx, "Invalid Authorization header format")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
				return
			}
			tokenString := headerParts[1]

			user, err := authService.AuthenticateToken(ctx, tokenString)
			if err != nil {
				// One response body for every rejection reason, so callers
				// cannot distinguish inactive accounts from bad tokens.
				switch {
				case errors.Is(err, types.ErrAccountInactive), errors.Is(err, types.ErrUnauthenticated):
					l.WarnContext(ctx, "Authentication failed", slog.Any("error", err))
					api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid or expired token")
				default:
					l.ErrorContext(ctx, "Authentication check failed", slog.Any("error", err))
					api.ErrorResponse(w, r, http.StatusInternalServerError, "Authentication check failed")
				}
				return
			}

			ctx = context.WithValue(ctx, UserKey, user)
			ctx = context.WithValue(ctx, TokenKey, tokenString)
			l.DebugContext(ctx, "Authentication successful", slog.String("userID", user.ID.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

const TokenKey contextKey = "authToken"

// GetTokenFromContext returns the raw bearer token of the current request.
func GetTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// RequirePermission checks if the user in the context holds the given
// permission. Runs AFTER the Authenticate middleware.
func RequirePermission(logger *slog.Logger, permission string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user, ok := GetUserFromContext(ctx)
			if !ok {
				logger.ErrorContext(ctx, "User missing from context, Authenticate not applied?")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}

			var permissions []string
			if user.Profile != nil {
				permissions = user.Profile.Permissions
			}
			if !HasPermission(permissions, permission) {
				logger.WarnContext(ctx, "Permission check failed",
					slog.String("userID", user.ID.String()),
					slog.String("required", permission))
				api.ErrorResponse(w, r, http.StatusForbidden, fmt.Sprintf("Missing required permission: %s", permission))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts the route to users holding an admin sentinel.
func RequireAdmin(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user, ok := GetUserFromContext(ctx)
			if !ok {
				logger.ErrorContext(ctx, "User missing from context, Authenticate not applied?")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}

			var permissions []string
			if user.Profile != nil {
				permissions = user.Profile.Permissions
			}
			if !IsAdmin(permissions) {
				logger.WarnContext(ctx, "Admin check failed", slog.String("userID", user.ID.String()))
				api.ErrorResponse(w, r, http.StatusForbidden, "Administrator access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
