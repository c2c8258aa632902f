package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	"github.com/saldiviabuses/erp-server/app/observability/metrics"
	"github.com/saldiviabuses/erp-server/config"
	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

var _ AuthService = (*AuthServiceImpl)(nil)

// LoginResult carries everything the login endpoint returns.
type LoginResult struct {
	User         *types.User
	AccessToken  string
	RefreshToken string
}

type AuthService interface {
	// Login verifies credentials, records a session for the issued access
	// token and returns both tokens. Bad credentials, unknown usernames and
	// inactive accounts all surface as types.ErrUnauthenticated so callers
	// cannot distinguish them.
	Login(ctx context.Context, username, password string) (*LoginResult, error)

	// Refresh validates a refresh token and issues a fresh access token,
	// recording a session row so the new token passes authentication.
	Refresh(ctx context.Context, refreshToken string) (string, error)

	// Logout removes every session recorded for the token. It never fails on
	// a token that has no session.
	Logout(ctx context.Context, token string) error

	// AuthenticateToken verifies the token signature and claims, then checks
	// a live session row exists for it. Returns the resolved user.
	AuthenticateToken(ctx context.Context, token string) (*types.User, error)
}

// BreakglassOverlay lets persisted contact edits of the break-glass identity
// override the config defaults when the identity is rebuilt in memory.
type BreakglassOverlay interface {
	Apply(u *types.User)
}

type AuthServiceImpl struct {
	logger          *slog.Logger
	repo            AuthRepo
	jwtCfg          config.JWTConfig
	breakglass      config.BreakglassConfig
	overlay         BreakglassOverlay
	sessionCache    *cache.Cache
	sessionCacheTTL time.Duration
	now             func() time.Time
}

func NewAuthService(repo AuthRepo, cfg config.Config, logger *slog.Logger) *AuthServiceImpl {
	ttl := cfg.Auth.SessionCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AuthServiceImpl{
		logger:          logger,
		repo:            repo,
		jwtCfg:          cfg.JWT,
		breakglass:      cfg.Auth.Breakglass,
		sessionCache:    cache.New(ttl, 2*ttl),
		sessionCacheTTL: ttl,
		now:             time.Now,
	}
}

// SetBreakglassOverlay attaches the fallback contact store. Called once during
// wiring, before the service handles requests.
func (s *AuthServiceImpl) SetBreakglassOverlay(overlay BreakglassOverlay) {
	s.overlay = overlay
}

func (s *AuthServiceImpl) breakglassUser() *types.User {
	user := BreakglassUser(s.breakglass, s.now())
	if s.overlay != nil {
		s.overlay.Apply(user)
	}
	return user
}

// BreakglassUser builds the reserved identity from configuration. It carries
// the "all" permission and fixed IDs, so it resolves identically whether it
// comes from the database or from this in-memory fallback.
func BreakglassUser(cfg config.BreakglassConfig, now time.Time) *types.User {
	email := cfg.Email
	firstName := cfg.FirstName
	lastName := cfg.LastName
	phone := cfg.Phone
	department := cfg.Department
	position := cfg.Position
	return &types.User{
		ID:        BreakglassUserID,
		Username:  cfg.Username,
		Email:     &email,
		FirstName: &firstName,
		LastName:  &lastName,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
		Profile: &types.Profile{
			ID:          BreakglassProfileID,
			UserID:      BreakglassUserID,
			Name:        "Administrador",
			Permissions: []string{PermissionAll},
			Phone:       &phone,
			Department:  &department,
			Position:    &position,
		},
	}
}

func (s *AuthServiceImpl) isBreakglass(username, password string) bool {
	if s.breakglass.Username == "" || s.breakglass.Password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.breakglass.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.breakglass.Password)) == 1
	return userOK && passOK
}

func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	l := s.logger.With(slog.String("method", "Login"), slog.String("username", username))

	start := time.Now()
	outcome := "failure"
	defer func() {
		m := metrics.Get()
		m.LoginAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		m.LoginDurationSeconds.Record(ctx, time.Since(start).Seconds())
	}()

	var user *types.User
	breakglass := s.isBreakglass(username, password)
	if breakglass {
		user = s.breakglassUser()
		l.InfoContext(ctx, "Break-glass login")
	} else {
		var err error
		user, err = s.repo.GetUserByUsername(ctx, username)
		if err != nil {
			// Storage failures fail closed as bad credentials.
			if !errors.Is(err, types.ErrNotFound) {
				l.ErrorContext(ctx, "User lookup failed", slog.Any("error", err))
			}
			return nil, types.ErrUnauthenticated
		}
		// Password first so an inactive account costs the same work as an
		// active one.
		if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return nil, types.ErrUnauthenticated
		}
		if !user.Active {
			return nil, types.ErrAccountInactive
		}
	}

	accessToken, expiresAt, err := s.mintAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	refreshToken, err := s.mintRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if err = s.repo.CreateSession(ctx, user.ID, accessToken, expiresAt); err != nil {
		if !breakglass {
			return nil, fmt.Errorf("login: session create failed: %w", err)
		}
		// The break-glass identity must stay usable without storage.
		l.WarnContext(ctx, "Break-glass session not persisted", slog.Any("error", err))
	}

	if !breakglass {
		if err = s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
			l.WarnContext(ctx, "Failed to update last login", slog.Any("error", err))
		}
	}

	outcome = "success"
	return &LoginResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims := &types.RefreshClaims{}
	token, err := jwt.ParseWithClaims(refreshToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtCfg.RefreshSecretKey), nil
	})
	if err != nil || !token.Valid {
		return "", types.ErrUnauthenticated
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return "", types.ErrUnauthenticated
	}

	var user *types.User
	if userID == BreakglassUserID {
		user = s.breakglassUser()
	} else {
		user, err = s.repo.GetUserByID(ctx, userID)
		if err != nil {
			// Storage failures fail closed as a rejected token.
			if !errors.Is(err, types.ErrNotFound) {
				s.logger.ErrorContext(ctx, "User lookup failed during refresh", slog.Any("error", err))
			}
			return "", types.ErrUnauthenticated
		}
		if !user.Active {
			return "", types.ErrAccountInactive
		}
	}

	accessToken, expiresAt, err := s.mintAccessToken(user)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}

	// Without a session row the new token would be rejected by
	// AuthenticateToken, so the refresh records one just like login does.
	if err = s.repo.CreateSession(ctx, user.ID, accessToken, expiresAt); err != nil {
		if userID != BreakglassUserID {
			return "", fmt.Errorf("refresh: session create failed: %w", err)
		}
		s.logger.WarnContext(ctx, "Break-glass session not persisted", slog.Any("error", err))
	}

	return accessToken, nil
}

func (s *AuthServiceImpl) Logout(ctx context.Context, token string) error {
	s.sessionCache.Delete(token)
	deleted, err := s.repo.DeleteSessionsByToken(ctx, token)
	if err != nil {
		// Logout is best effort. The client discards the token either way.
		s.logger.WarnContext(ctx, "Session delete failed during logout", slog.Any("error", err))
		return nil
	}
	if deleted == 0 {
		s.logger.DebugContext(ctx, "Logout for token without session")
	}
	return nil
}

func (s *AuthServiceImpl) AuthenticateToken(ctx context.Context, tokenString string) (*types.User, error) {
	claims := &types.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtCfg.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, types.ErrUnauthenticated
	}
	if s.jwtCfg.Issuer != "" && claims.Issuer != s.jwtCfg.Issuer {
		return nil, types.ErrUnauthenticated
	}
	if !api.VerifyAudience(claims.Audience, s.jwtCfg.Audience) {
		return nil, types.ErrUnauthenticated
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, types.ErrUnauthenticated
	}

	// The break-glass identity authenticates on the token alone so it keeps
	// working while the database is unreachable.
	if userID == BreakglassUserID {
		return s.breakglassUser(), nil
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		// Storage failures fail closed as a rejected token, never a 500.
		if !errors.Is(err, types.ErrNotFound) {
			s.logger.ErrorContext(ctx, "User lookup failed during authentication", slog.Any("error", err))
		}
		return nil, types.ErrUnauthenticated
	}
	if !user.Active {
		return nil, types.ErrAccountInactive
	}

	if err = s.checkSession(ctx, userID, tokenString); err != nil {
		return nil, err
	}
	return user, nil
}

// checkSession enforces the double check: a syntactically valid token is still
// rejected unless a live session row exists for it. Positive results are
// memoized briefly, never past the session's own expiry.
func (s *AuthServiceImpl) checkSession(ctx context.Context, userID uuid.UUID, token string) error {
	if _, found := s.sessionCache.Get(token); found {
		metrics.Get().SessionChecksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "cache")))
		return nil
	}
	metrics.Get().SessionChecksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "storage")))

	sess, err := s.repo.GetSessionByToken(ctx, userID, token)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			s.logger.ErrorContext(ctx, "Session lookup failed during authentication", slog.Any("error", err))
		}
		return types.ErrUnauthenticated
	}

	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		return types.ErrUnauthenticated
	}

	ttl := s.sessionCacheTTL
	if remaining := sess.ExpiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	s.sessionCache.Set(token, userID, ttl)
	return nil
}

func (s *AuthServiceImpl) mintAccessToken(user *types.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.jwtCfg.AccessTokenTTL)

	claims := types.Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.jwtCfg.Issuer,
			Audience:  jwt.ClaimStrings{s.jwtCfg.Audience},
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	if user.Profile != nil {
		claims.ProfileID = user.Profile.ID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtCfg.SecretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *AuthServiceImpl) mintRefreshToken(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := types.RefreshClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.jwtCfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtCfg.RefreshTokenTTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtCfg.RefreshSecretKey))
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}
