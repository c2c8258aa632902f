package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

var _ AuthRepo = (*PostgresAuthRepo)(nil)

// AuthRepo defines the storage contract of the authentication flow.
type AuthRepo interface {
	// GetUserByUsername fetches a user and their profile by unique username.
	// Returns types.ErrNotFound when no row matches.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)

	// GetUserByID fetches a user and their profile by id.
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)

	// UpdateLastLogin sets the last_login timestamp.
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error

	// CreateSession records an issued access token with its absolute expiry.
	CreateSession(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error

	// GetSessionByToken fetches the session row matching this exact token for
	// the user, expired or not. Expiry is decided by the caller.
	GetSessionByToken(ctx context.Context, userID uuid.UUID, token string) (*types.Session, error)

	// DeleteSessionsByToken removes every session matching the token.
	// Deleting an already-deleted session is a no-op.
	DeleteSessionsByToken(ctx context.Context, token string) (int64, error)

	// DeleteExpiredSessions purges rows whose expiry has passed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type PostgresAuthRepo struct {
	logger *slog.Logger
	pgpool api.PgxPool
}

func NewPostgresAuthRepo(pgpool api.PgxPool, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userSelectColumns = `
	u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name,
	u.active, u.last_login, u.created_at, u.updated_at,
	p.id, p.name, p.description, p.permissions, p.phone, p.department,
	p.position, p.profile_image
`

func scanUserWithProfile(row pgx.Row) (*types.User, error) {
	var user types.User
	var profileID *uuid.UUID
	var profileName, profileDescription *string
	var permissions []string
	var phone, department, position, profileImage *string

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Active, &user.LastLogin,
		&user.CreatedAt, &user.UpdatedAt,
		&profileID, &profileName, &profileDescription, &permissions,
		&phone, &department, &position, &profileImage,
	)
	if err != nil {
		return nil, err
	}

	if profileID != nil {
		user.Profile = &types.Profile{
			ID:           *profileID,
			UserID:       user.ID,
			Name:         derefOr(profileName, ""),
			Description:  profileDescription,
			Permissions:  permissions,
			Phone:        phone,
			Department:   department,
			Position:     position,
			ProfileImage: profileImage,
		}
		if user.Profile.Permissions == nil {
			user.Profile.Permissions = []string{}
		}
	}
	return &user, nil
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}

func (r *PostgresAuthRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "GetUserByUsername", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	query := `
		SELECT ` + userSelectColumns + `
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.username = $1
	`
	user, err := scanUserWithProfile(r.pgpool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: query failed: %w", err)
	}
	return user, nil
}

func (r *PostgresAuthRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	query := `
		SELECT ` + userSelectColumns + `
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`
	user, err := scanUserWithProfile(r.pgpool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: query failed: %w", err)
	}
	return user, nil
}

func (r *PostgresAuthRepo) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pgpool.Exec(ctx,
		"UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2",
		time.Now(), userID)
	if err != nil {
		return fmt.Errorf("update last login: db update failed: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepo) CreateSession(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateSession", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "sessions"),
	))
	defer span.End()

	_, err := r.pgpool.Exec(ctx,
		"INSERT INTO sessions (user_id, token, expires_at) VALUES ($1, $2, $3)",
		userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("create session: db insert failed: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepo) GetSessionByToken(ctx context.Context, userID uuid.UUID, token string) (*types.Session, error) {
	var sess types.Session
	err := r.pgpool.QueryRow(ctx,
		"SELECT id, user_id, token, expires_at, created_at FROM sessions WHERE user_id = $1 AND token = $2",
		userID, token).Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get session: query failed: %w", err)
	}
	return &sess, nil
}

func (r *PostgresAuthRepo) DeleteSessionsByToken(ctx context.Context, token string) (int64, error) {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM sessions WHERE token = $1", token)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: db delete failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresAuthRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: db delete failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
