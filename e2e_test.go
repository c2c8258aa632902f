package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/saldiviabuses/erp-server/config"
	"github.com/saldiviabuses/erp-server/internal/api/audit"
	"github.com/saldiviabuses/erp-server/internal/api/auth"
	"github.com/saldiviabuses/erp-server/internal/api/dashboard"
	"github.com/saldiviabuses/erp-server/internal/api/system"
	"github.com/saldiviabuses/erp-server/internal/api/user"
	"github.com/saldiviabuses/erp-server/internal/router"
	"github.com/saldiviabuses/erp-server/internal/types"
)

// memoryAuthRepo backs the auth service with maps so the full HTTP flow runs
// without Postgres.
type memoryAuthRepo struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*types.User
	sessions map[string]*types.Session
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{
		users:    make(map[uuid.UUID]*types.User),
		sessions: make(map[string]*types.Session),
	}
}

func (r *memoryAuthRepo) addUser(u *types.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *memoryAuthRepo) GetUserByUsername(_ context.Context, username string) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, types.ErrNotFound
}

func (r *memoryAuthRepo) GetUserByID(_ context.Context, userID uuid.UUID) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		return u, nil
	}
	return nil, types.ErrNotFound
}

func (r *memoryAuthRepo) UpdateLastLogin(_ context.Context, _ uuid.UUID) error { return nil }

func (r *memoryAuthRepo) CreateSession(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = &types.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (r *memoryAuthRepo) GetSessionByToken(_ context.Context, userID uuid.UUID, token string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[token]; ok && s.UserID == userID {
		return s, nil
	}
	return nil, types.ErrNotFound
}

func (r *memoryAuthRepo) DeleteSessionsByToken(_ context.Context, token string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; ok {
		delete(r.sessions, token)
		return 1, nil
	}
	return 0, nil
}

func (r *memoryAuthRepo) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, s := range r.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

// memoryUserService serves the user endpoints with canned data. Only the
// methods the flows below touch return anything meaningful.
type memoryUserService struct {
	users map[uuid.UUID]*types.User
}

func (s *memoryUserService) ListUsers(_ context.Context, params types.ListUsersParams) (*user.UserListResult, error) {
	all := make([]types.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *u)
	}
	return &user.UserListResult{
		Users: all, Total: len(all), Page: params.Page, Limit: params.Limit, TotalPages: 1,
	}, nil
}

func (s *memoryUserService) GetUser(_ context.Context, userID uuid.UUID) (*types.User, error) {
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	return nil, types.ErrNotFound
}

func (s *memoryUserService) CreateUser(_ context.Context, _ *types.User, _ types.CreateUserParams, _ user.RequestMeta) (*types.User, error) {
	return nil, types.ErrConflict
}

func (s *memoryUserService) UpdateUser(_ context.Context, _ *types.User, _ uuid.UUID, _ types.UpdateUserParams, _ user.RequestMeta) (*types.User, error) {
	return nil, types.ErrNotFound
}

func (s *memoryUserService) DeleteUser(_ context.Context, _ *types.User, _ uuid.UUID, _ user.RequestMeta) error {
	return types.ErrNotFound
}

func (s *memoryUserService) UpdateOwnContact(_ context.Context, actor *types.User, _ types.UpdateContactParams) (*types.User, error) {
	return actor, nil
}

func (s *memoryUserService) ListProfiles(_ context.Context) ([]types.ProfileSummary, error) {
	return []types.ProfileSummary{}, nil
}

func (s *memoryUserService) CreateProfile(_ context.Context, _ *types.User, _ types.CreateProfileParams, _ user.RequestMeta) (*types.ProfileSummary, error) {
	return nil, types.ErrConflict
}

func (s *memoryUserService) UpdateProfile(_ context.Context, _ *types.User, _ uuid.UUID, _ types.UpdateProfileParams, _ user.RequestMeta) (*types.ProfileSummary, error) {
	return nil, types.ErrNotFound
}

func (s *memoryUserService) DeleteProfile(_ context.Context, _ *types.User, _ uuid.UUID, _ user.RequestMeta) error {
	return types.ErrNotFound
}

func (s *memoryUserService) ReplacePermissions(_ context.Context, _ *types.User, _ uuid.UUID, _ []string, _ user.RequestMeta) (*types.User, error) {
	return nil, types.ErrNotFound
}

func (s *memoryUserService) SetPassword(_ context.Context, _ *types.User, _ uuid.UUID, _ string, _ user.RequestMeta) error {
	return types.ErrNotFound
}

func (s *memoryUserService) GetHistory(_ context.Context, _ *types.User, _ uuid.UUID) ([]types.AuditLogEntry, error) {
	return []types.AuditLogEntry{}, nil
}

type memoryAuditRepo struct{}

func (memoryAuditRepo) Insert(_ context.Context, _ types.AuditRecord) error { return nil }
func (memoryAuditRepo) ListRecent(_ context.Context, _ int) ([]types.AuditLogEntry, error) {
	return []types.AuditLogEntry{}, nil
}
func (memoryAuditRepo) ListForUser(_ context.Context, _ uuid.UUID, _ int) ([]types.AuditLogEntry, error) {
	return []types.AuditLogEntry{}, nil
}

type memorySystemRepo struct{}

func (memorySystemRepo) ListConfig(_ context.Context) ([]types.SystemConfigEntry, error) {
	return []types.SystemConfigEntry{}, nil
}

// E2ETestSuite drives the real router end to end over httptest.
type E2ETestSuite struct {
	suite.Suite
	server   *httptest.Server
	client   *http.Client
	authRepo *memoryAuthRepo

	contadorID    uuid.UUID
	contadorToken string
	adminToken    string
}

func (s *E2ETestSuite) SetupSuite() {
	logger := slog.Default()

	cfg := config.Config{}
	cfg.JWT = config.JWTConfig{
		SecretKey:        "e2e-access-secret",
		RefreshSecretKey: "e2e-refresh-secret",
		Issuer:           "saldivia-erp",
		Audience:         "saldivia-erp-client",
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  24 * time.Hour,
	}
	cfg.Auth = config.AuthConfig{
		SessionCacheTTL: 30 * time.Second,
		Breakglass: config.BreakglassConfig{
			Username: "adrian",
			Password: "jopo",
			Email:    "adrian@saldiviabuses.com.ar",
		},
	}

	s.authRepo = newMemoryAuthRepo()
	s.contadorID = uuid.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("conta123"), bcrypt.DefaultCost)
	s.Require().NoError(err)
	contador := &types.User{
		ID:           s.contadorID,
		Username:     "contador",
		PasswordHash: string(hash),
		Active:       true,
		Profile: &types.Profile{
			ID:          uuid.New(),
			UserID:      s.contadorID,
			Name:        "Contador",
			Permissions: []string{"accounting", "banks"},
		},
	}
	s.authRepo.addUser(contador)

	authService := auth.NewAuthService(s.authRepo, cfg, logger)
	authHandler := auth.NewHandlerImpl(authService, logger)

	userService := &memoryUserService{users: map[uuid.UUID]*types.User{s.contadorID: contador}}
	userHandler := user.NewHandlerImpl(userService, logger)

	var auditRepo audit.Repo = memoryAuditRepo{}
	systemHandler := system.NewHandlerImpl(memorySystemRepo{}, auditRepo, logger)
	dashboardHandler := dashboard.NewHandlerImpl(logger)

	mux := router.SetupRouter(&router.Config{
		Logger:           logger,
		AuthHandler:      authHandler,
		AuthService:      authService,
		UserHandler:      userHandler,
		SystemHandler:    systemHandler,
		DashboardHandler: dashboardHandler,
	})

	s.server = httptest.NewServer(mux)
	s.client = &http.Client{Timeout: 10 * time.Second}
}

func (s *E2ETestSuite) TearDownSuite() {
	if s.server != nil {
		s.server.Close()
	}
}

func (s *E2ETestSuite) doJSON(method, path, token string, body any) (*http.Response, map[string]json.RawMessage) {
	s.T().Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (s *E2ETestSuite) Test01_HealthIsPublic() {
	resp, _ := s.doJSON(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *E2ETestSuite) Test02_LoginRejectsBadCredentials() {
	resp, _ := s.doJSON(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "contador",
		"password": "wrong",
	})
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *E2ETestSuite) Test03_LoginStoresSession() {
	resp, body := s.doJSON(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "contador",
		"password": "conta123",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var token string
	s.Require().NoError(json.Unmarshal(body["accessToken"], &token))
	s.NotEmpty(token)
	s.contadorToken = token

	s.authRepo.mu.Lock()
	defer s.authRepo.mu.Unlock()
	s.Len(s.authRepo.sessions, 1)
}

func (s *E2ETestSuite) Test04_MeReturnsProfile() {
	resp, body := s.doJSON(http.MethodGet, "/api/auth/me", s.contadorToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var me types.User
	s.Require().NoError(json.Unmarshal(body["user"], &me))
	s.Equal("contador", me.Username)
	s.Require().NotNil(me.Profile)
	s.Contains(me.Profile.Permissions, "accounting")
}

func (s *E2ETestSuite) Test05_ProtectedRouteRequiresToken() {
	resp, _ := s.doJSON(http.MethodGet, "/api/users", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *E2ETestSuite) Test06_AdminRouteDeniedForContador() {
	resp, _ := s.doJSON(http.MethodGet, "/api/system/audit", s.contadorToken, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func (s *E2ETestSuite) Test07_BreakglassReachesAdminRoutes() {
	resp, body := s.doJSON(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "adrian",
		"password": "jopo",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().NoError(json.Unmarshal(body["accessToken"], &s.adminToken))

	resp, _ = s.doJSON(http.MethodGet, "/api/system/audit", s.adminToken, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *E2ETestSuite) Test08_ListUsersWithToken() {
	resp, body := s.doJSON(http.MethodGet, "/api/users", s.contadorToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var total int
	s.Require().NoError(json.Unmarshal(body["total"], &total))
	s.Equal(1, total)
}

func (s *E2ETestSuite) Test09_RefreshedTokenAuthenticates() {
	resp, body := s.doJSON(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "contador",
		"password": "conta123",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var refreshToken string
	s.Require().NoError(json.Unmarshal(body["refreshToken"], &refreshToken))

	resp, body = s.doJSON(http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": refreshToken,
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var refreshed string
	s.Require().NoError(json.Unmarshal(body["accessToken"], &refreshed))

	resp, _ = s.doJSON(http.MethodGet, "/api/auth/me", refreshed, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *E2ETestSuite) Test10_LogoutInvalidatesSession() {
	resp, _ := s.doJSON(http.MethodPost, "/api/auth/logout", s.contadorToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp, _ = s.doJSON(http.MethodGet, "/api/auth/me", s.contadorToken, nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestE2E(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}
