package user

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/api/audit"
	"github.com/saldiviabuses/erp-server/internal/api/auth"
	"github.com/saldiviabuses/erp-server/internal/types"
)

type HandlerImpl struct {
	userService UserService
	logger      *slog.Logger
}

// NewHandlerImpl creates a new user HandlerImpl instance.
func NewHandlerImpl(userService UserService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		userService: userService,
		logger:      logger,
	}
}

func requestMeta(r *http.Request) RequestMeta {
	ip, ua := audit.RequestMeta(r)
	return RequestMeta{IPAddress: ip, UserAgent: ua}
}

// writeServiceError maps domain errors onto status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, l *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, types.ErrValidation):
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		api.ErrorResponse(w, r, http.StatusNotFound, "Not found")
	case errors.Is(err, types.ErrConflict):
		api.ErrorResponse(w, r, http.StatusConflict, "Already exists")
	case errors.Is(err, types.ErrForbidden):
		api.ErrorResponse(w, r, http.StatusForbidden, err.Error())
	default:
		l.ErrorContext(r.Context(), "Request failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, fallback)
	}
}

func actorFromContext(w http.ResponseWriter, r *http.Request, l *slog.Logger) (*types.User, bool) {
	actor, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		l.ErrorContext(r.Context(), "User missing from context")
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return actor, true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid id format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *HandlerImpl) ListUsers(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "ListUsers"))

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	params := types.ListUsersParams{
		Page:      page,
		Limit:     limit,
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		Profile:   q.Get("profile"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}

	result, err := h.userService.ListUsers(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to list users")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, result)
}

func (h *HandlerImpl) GetUser(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "GetUser"))

	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	user, err := h.userService.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to get user")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

func (h *HandlerImpl) CreateUser(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "CreateUser"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}

	var params types.CreateUserParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.userService.CreateUser(r.Context(), actor, params, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to create user")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, created)
}

func (h *HandlerImpl) UpdateUser(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "UpdateUser"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var params types.UpdateUserParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.userService.UpdateUser(r.Context(), actor, userID, params, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to update user")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, updated)
}

func (h *HandlerImpl) DeleteUser(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "DeleteUser"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.userService.DeleteUser(r.Context(), actor, userID, requestMeta(r)); err != nil {
		writeServiceError(w, r, l, err, "Failed to delete user")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (h *HandlerImpl) UpdateOwnProfile(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "UpdateOwnProfile"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}

	var params types.UpdateContactParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.userService.UpdateOwnContact(r.Context(), actor, params)
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to update profile")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{"user": updated})
}

func (h *HandlerImpl) ListProfiles(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "ListProfiles"))

	profiles, err := h.userService.ListProfiles(r.Context())
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to list profiles")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, profiles)
}

func (h *HandlerImpl) CreateProfile(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "CreateProfile"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}

	var params types.CreateProfileParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.userService.CreateProfile(r.Context(), actor, params, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to create profile")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, created)
}

func (h *HandlerImpl) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "UpdateProfile"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}
	profileID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var params types.UpdateProfileParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.userService.UpdateProfile(r.Context(), actor, profileID, params, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to update profile")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, updated)
}

func (h *HandlerImpl) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "DeleteProfile"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}
	profileID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	err := h.userService.DeleteProfile(r.Context(), actor, profileID, requestMeta(r))
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			api.ErrorResponse(w, r, http.StatusConflict, "Profile is still assigned to users")
			return
		}
		writeServiceError(w, r, l, err, "Failed to delete profile")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]string{"message": "Profile deleted"})
}

type updatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (h *HandlerImpl) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "UpdatePermissions"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req updatePermissionsRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Permissions == nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Permissions array is required")
		return
	}

	updated, err := h.userService.ReplacePermissions(r.Context(), actor, userID, req.Permissions, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, l, err, "Failed to update permissions")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, updated)
}

type updatePasswordRequest struct {
	Password string `json:"password"`
}

func (h *HandlerImpl) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "UpdatePassword"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req updatePasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.userService.SetPassword(r.Context(), actor, userID, req.Password, requestMeta(r)); err != nil {
		writeServiceError(w, r, l, err, "Failed to update password")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (h *HandlerImpl) GetHistory(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "GetHistory"))

	actor, ok := actorFromContext(w, r, l)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.userService.GetHistory(r.Context(), actor, userID)
	if err != nil {
		if errors.Is(err, types.ErrForbidden) {
			api.ErrorResponse(w, r, http.StatusForbidden, "Missing required permission: view_history")
			return
		}
		writeServiceError(w, r, l, err, "Failed to get history")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, entries)
}
