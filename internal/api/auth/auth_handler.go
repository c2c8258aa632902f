package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	Login(w http.ResponseWriter, r *http.Request)
	Refresh(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	authService AuthService
	logger      *slog.Logger
}

// NewHandlerImpl creates a new auth HandlerImpl instance.
func NewHandlerImpl(authService AuthService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		authService: authService,
		logger:      logger,
	}
}

// Login authenticates a username/password pair and returns the user together
// with a fresh access and refresh token.
func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Login"))

	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode login request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Username and password are required")
		return
	}

	result, err := h.authService.Login(ctx, req.Username, req.Password)
	if err != nil {
		// Inactive accounts and bad credentials share one response body so the
		// caller cannot tell which check failed.
		switch {
		case errors.Is(err, types.ErrAccountInactive):
			l.WarnContext(ctx, "Login rejected, account inactive", slog.String("username", req.Username))
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, types.ErrUnauthenticated):
			l.WarnContext(ctx, "Login failed", slog.String("username", req.Username))
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid credentials")
		default:
			l.ErrorContext(ctx, "Login error", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, LoginResponse{
		Message:      "Login successful",
		User:         result.User,
		Token:        result.AccessToken,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

// Refresh exchanges a valid refresh token for a new access token.
func (h *HandlerImpl) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Refresh"))

	var req RefreshRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode refresh request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Refresh token is required")
		return
	}

	accessToken, err := h.authService.Refresh(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrAccountInactive), errors.Is(err, types.ErrUnauthenticated):
			l.WarnContext(ctx, "Refresh token rejected", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid refresh token")
		default:
			l.ErrorContext(ctx, "Refresh error", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Token refresh failed")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, RefreshResponse{AccessToken: accessToken})
}

// Logout removes the session of the presented token. It succeeds even when
// the token has no session left to remove.
func (h *HandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Logout"))

	token, ok := GetTokenFromContext(ctx)
	if !ok {
		l.ErrorContext(ctx, "Token not found in context")
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.authService.Logout(ctx, token); err != nil {
		l.ErrorContext(ctx, "Logout error", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Logout failed")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "Logged out successfully",
	})
}

// Me returns the authenticated user's identity with their profile.
func (h *HandlerImpl) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Me"))

	user, ok := GetUserFromContext(ctx)
	if !ok {
		l.ErrorContext(ctx, "User not found in context")
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, MeResponse{User: user})
}
