package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saldiviabuses/erp-server/internal/types"
)

// MockAuthService is a mock implementation of the AuthService interface
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LoginResult), args.Error(1)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	args := m.Called(ctx, refreshToken)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockAuthService) AuthenticateToken(ctx context.Context, token string) (*types.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func loginBody(t *testing.T, username, password string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestLoginHandler(t *testing.T) {
	logger := slog.Default()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		user := &types.User{ID: uuid.New(), Username: "contador", Active: true}
		mockService.On("Login", mock.Anything, "contador", "secreto123").Return(&LoginResult{
			User:         user,
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
		}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", loginBody(t, "contador", "secreto123"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "Login successful", resp.Message)
		assert.Equal(t, "access-token", resp.Token)
		assert.Equal(t, "access-token", resp.AccessToken)
		assert.Equal(t, "refresh-token", resp.RefreshToken)
		assert.Equal(t, user.ID, resp.User.ID)
		mockService.AssertExpectations(t)
	})

	t.Run("BadCredentials", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		mockService.On("Login", mock.Anything, "contador", "wrong").Return(nil, types.ErrUnauthenticated).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", loginBody(t, "contador", "wrong"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("MissingFields", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", loginBody(t, "contador", ""))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Login")
	})

	t.Run("MalformedBody", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"username":`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "JSON")
		mockService.AssertNotCalled(t, "Login")
	})

	t.Run("InactiveAccount", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		mockService.On("Login", mock.Anything, "inactivo", "secreto123").Return(nil, types.ErrAccountInactive).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", loginBody(t, "inactivo", "secreto123"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		// Same status and body as a bad password, so callers cannot tell
		// which accounts exist.
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid credentials")
		assert.NotContains(t, rr.Body.String(), "inactive")
		mockService.AssertExpectations(t)
	})
}

func TestRefreshHandler(t *testing.T) {
	logger := slog.Default()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		mockService.On("Refresh", mock.Anything, "refresh-token").Return("new-access", nil).Once()

		body, _ := json.Marshal(RefreshRequest{RefreshToken: "refresh-token"})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Refresh(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp RefreshResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "new-access", resp.AccessToken)
		mockService.AssertExpectations(t)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		mockService.On("Refresh", mock.Anything, "bad").Return("", types.ErrUnauthenticated).Once()

		body, _ := json.Marshal(RefreshRequest{RefreshToken: "bad"})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Refresh(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", bytes.NewBufferString(`not json`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Refresh(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Refresh")
	})
}

func TestLogoutHandler(t *testing.T) {
	logger := slog.Default()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		mockService.On("Logout", mock.Anything, "access-token").Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		ctx := context.WithValue(req.Context(), TokenKey, "access-token")
		rr := httptest.NewRecorder()
		handler.Logout(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		mockService.AssertExpectations(t)
	})

	t.Run("NoToken", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		rr := httptest.NewRecorder()
		handler.Logout(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertNotCalled(t, "Logout")
	})
}

func TestMeHandler(t *testing.T) {
	logger := slog.Default()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		user := &types.User{ID: uuid.New(), Username: "contador", Active: true}
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		ctx := context.WithValue(req.Context(), UserKey, user)
		rr := httptest.NewRecorder()
		handler.Me(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp MeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, user.Username, resp.User.Username)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := NewHandlerImpl(mockService, logger)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		rr := httptest.NewRecorder()
		handler.Me(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestAuthenticateMiddleware(t *testing.T) {
	logger := slog.Default()
	nextCalled := func(called *bool) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*called = true
			w.WriteHeader(http.StatusOK)
		})
	}

	t.Run("ValidToken", func(t *testing.T) {
		mockService := new(MockAuthService)
		user := &types.User{ID: uuid.New(), Username: "contador", Active: true}
		mockService.On("AuthenticateToken", mock.Anything, "valid-token").Return(user, nil).Once()

		var called bool
		mw := Authenticate(mockService, logger)(nextCalled(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)

		assert.True(t, called)
		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		mockService := new(MockAuthService)
		var called bool
		mw := Authenticate(mockService, logger)(nextCalled(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		mockService := new(MockAuthService)
		var called bool
		mw := Authenticate(mockService, logger)(nextCalled(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Basic abc123")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("RejectedToken", func(t *testing.T) {
		mockService := new(MockAuthService)
		mockService.On("AuthenticateToken", mock.Anything, "stale-token").Return(nil, types.ErrUnauthenticated).Once()

		var called bool
		mw := Authenticate(mockService, logger)(nextCalled(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer stale-token")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("InactiveAccountSameBodyAsBadToken", func(t *testing.T) {
		mockService := new(MockAuthService)
		mockService.On("AuthenticateToken", mock.Anything, "inactive-token").Return(nil, types.ErrAccountInactive).Once()

		var called bool
		mw := Authenticate(mockService, logger)(nextCalled(&called))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer inactive-token")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid or expired token")
		assert.NotContains(t, rr.Body.String(), "inactive")
		mockService.AssertExpectations(t)
	})

}

func TestRequirePermissionMiddleware(t *testing.T) {
	logger := slog.Default()

	withUser := func(req *http.Request, permissions []string) *http.Request {
		id := uuid.New()
		user := &types.User{
			ID:       id,
			Username: "contador",
			Active:   true,
			Profile:  &types.Profile{ID: uuid.New(), UserID: id, Name: "Contador", Permissions: permissions},
		}
		return req.WithContext(context.WithValue(req.Context(), UserKey, user))
	}

	run := func(mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *bool) {
		var called bool
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr, &called
	}

	t.Run("Granted", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/accounting", nil), []string{"accounting"})
		rr, called := run(RequirePermission(logger, "accounting"), req)
		assert.True(t, *called)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("SentinelGrants", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/accounting", nil), []string{"all"})
		rr, called := run(RequirePermission(logger, "accounting"), req)
		assert.True(t, *called)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("DeniedNamesPermission", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/accounting", nil), []string{"sales"})
		rr, called := run(RequirePermission(logger, "accounting"), req)
		assert.False(t, *called)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Contains(t, rr.Body.String(), "accounting")
	})

	t.Run("NoProfile", func(t *testing.T) {
		user := &types.User{ID: uuid.New(), Username: "sin-perfil", Active: true}
		req := httptest.NewRequest(http.MethodGet, "/api/accounting", nil)
		req = req.WithContext(context.WithValue(req.Context(), UserKey, user))
		rr, called := run(RequirePermission(logger, "accounting"), req)
		assert.False(t, *called)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("NoUserInContext", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/accounting", nil)
		rr, called := run(RequirePermission(logger, "accounting"), req)
		assert.False(t, *called)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("RequireAdmin", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/users", nil), []string{"admin"})
		rr, called := run(RequireAdmin(logger), req)
		assert.True(t, *called)
		assert.Equal(t, http.StatusOK, rr.Code)

		req = withUser(httptest.NewRequest(http.MethodGet, "/api/users", nil), []string{"sales"})
		rr, called = run(RequireAdmin(logger), req)
		assert.False(t, *called)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}
