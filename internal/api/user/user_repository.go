package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

var _ UserRepo = (*PostgresUserRepo)(nil)

// UserRepo is the storage contract for user and profile administration.
// Profiles double as role templates: a row with NULL user_id defines a role,
// rows with a user_id are per-user copies of it.
type UserRepo interface {
	ListUsers(ctx context.Context, params types.ListUsersParams) ([]types.User, int, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)
	CreateUser(ctx context.Context, params types.CreateUserParams, passwordHash string) (*types.User, error)
	UpdateUser(ctx context.Context, userID uuid.UUID, params types.UpdateUserParams, passwordHash *string) (*types.User, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	UpdateContact(ctx context.Context, userID uuid.UUID, params types.UpdateContactParams) (*types.User, error)

	UsernameExists(ctx context.Context, username string, excludeID *uuid.UUID) (bool, error)
	EmailExists(ctx context.Context, email string, excludeID *uuid.UUID) (bool, error)

	ListProfiles(ctx context.Context) ([]types.ProfileSummary, error)
	CreateProfile(ctx context.Context, params types.CreateProfileParams) (*types.ProfileSummary, error)
	UpdateProfile(ctx context.Context, profileID uuid.UUID, params types.UpdateProfileParams) (*types.ProfileSummary, error)
	DeleteProfile(ctx context.Context, profileID uuid.UUID) error

	ReplacePermissions(ctx context.Context, userID uuid.UUID, permissions []string) (*types.User, error)
	SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

type PostgresUserRepo struct {
	logger *slog.Logger
	pgpool api.PgxPool
}

func NewPostgresUserRepo(pgpool api.PgxPool, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
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
		name := ""
		if profileName != nil {
			name = *profileName
		}
		user.Profile = &types.Profile{
			ID:           *profileID,
			UserID:       user.ID,
			Name:         name,
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var sortColumns = map[string]string{
	"name":      "u.first_name",
	"username":  "u.username",
	"lastLogin": "u.last_login",
}

func (r *PostgresUserRepo) ListUsers(ctx context.Context, params types.ListUsersParams) ([]types.User, int, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "ListUsers", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	where := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(u.username ILIKE $%d OR u.email ILIKE $%d OR u.first_name ILIKE $%d OR u.last_name ILIKE $%d)",
			n, n, n, n))
	}
	switch params.Status {
	case "active":
		where = append(where, "u.active = TRUE")
	case "inactive":
		where = append(where, "u.active = FALSE")
	}
	if params.Profile != "" {
		args = append(args, params.Profile)
		where = append(where, fmt.Sprintf("p.name = $%d", len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQuery := `
		SELECT COUNT(*)
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		` + whereClause
	var total int
	if err := r.pgpool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("list users: count failed: %w", err)
	}

	orderBy := "u.created_at"
	if col, ok := sortColumns[params.SortBy]; ok {
		orderBy = col
	}
	direction := "DESC"
	if strings.EqualFold(params.SortOrder, "asc") {
		direction = "ASC"
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = 10
	}
	args = append(args, limit, (page-1)*limit)

	query := fmt.Sprintf(`
		SELECT `+userSelectColumns+`
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, whereClause, orderBy, direction, len(args)-1, len(args))

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: query failed: %w", err)
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUserWithProfile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list users: scan failed: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: rows: %w", err)
	}
	return users, total, nil
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
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
		return nil, fmt.Errorf("get user: query failed: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, params types.CreateUserParams, passwordHash string) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create user: begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	active := true
	if params.Active != nil {
		active = *params.Active
	}

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, first_name, last_name, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		params.Username, params.Email, passwordHash, params.FirstName, params.LastName, active,
	).Scan(&userID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.ErrConflict
		}
		return nil, fmt.Errorf("create user: insert failed: %w", err)
	}

	if params.ProfileName != nil && *params.ProfileName != "" {
		if err = assignProfileTx(ctx, tx, userID, *params.ProfileName); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create user: commit failed: %w", err)
	}
	return r.GetUserByID(ctx, userID)
}

// assignProfileTx gives the user a copy of the named role template, replacing
// any profile they already have. A missing template still assigns the name
// with an empty permission set.
func assignProfileTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, profileName string) error {
	if _, err := tx.Exec(ctx, "DELETE FROM profiles WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("assign profile: clear failed: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO profiles (user_id, name, description, permissions)
		SELECT $1, name, description, permissions
		FROM profiles
		WHERE name = $2 AND user_id IS NULL`,
		userID, profileName)
	if err != nil {
		return fmt.Errorf("assign profile: copy failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO profiles (user_id, name, permissions)
			VALUES ($1, $2, '{}')`,
			userID, profileName)
		if err != nil {
			return fmt.Errorf("assign profile: insert failed: %w", err)
		}
	}
	return nil
}

func (r *PostgresUserRepo) UpdateUser(ctx context.Context, userID uuid.UUID, params types.UpdateUserParams, passwordHash *string) (*types.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("update user: begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	set := []string{"updated_at = NOW()"}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Username != nil {
		add("username", *params.Username)
	}
	if params.Email != nil {
		add("email", *params.Email)
	}
	if params.FirstName != nil {
		add("first_name", *params.FirstName)
	}
	if params.LastName != nil {
		add("last_name", *params.LastName)
	}
	if params.Active != nil {
		add("active", *params.Active)
	}
	if passwordHash != nil {
		add("password_hash", *passwordHash)
	}

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.ErrConflict
		}
		return nil, fmt.Errorf("update user: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrNotFound
	}

	if params.ProfileName != nil && *params.ProfileName != "" {
		if err = assignProfileTx(ctx, tx, userID, *params.ProfileName); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update user: commit failed: %w", err)
	}
	return r.GetUserByID(ctx, userID)
}

func (r *PostgresUserRepo) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("delete user: db delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) UpdateContact(ctx context.Context, userID uuid.UUID, params types.UpdateContactParams) (*types.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("update contact: begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	set := []string{"updated_at = NOW()"}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if params.FirstName != nil {
		add("first_name", *params.FirstName)
	}
	if params.LastName != nil {
		add("last_name", *params.LastName)
	}
	if params.Email != nil {
		add("email", *params.Email)
	}

	args = append(args, userID)
	tag, err := tx.Exec(ctx,
		fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(set, ", "), len(args)),
		args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.ErrConflict
		}
		return nil, fmt.Errorf("update contact: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrNotFound
	}

	pset := []string{"updated_at = NOW()"}
	pargs := []any{}
	padd := func(column string, value any) {
		pargs = append(pargs, value)
		pset = append(pset, fmt.Sprintf("%s = $%d", column, len(pargs)))
	}
	if params.Phone != nil {
		padd("phone", *params.Phone)
	}
	if params.Department != nil {
		padd("department", *params.Department)
	}
	if params.Position != nil {
		padd("position", *params.Position)
	}
	if len(pargs) > 0 {
		pargs = append(pargs, userID)
		_, err = tx.Exec(ctx,
			fmt.Sprintf("UPDATE profiles SET %s WHERE user_id = $%d", strings.Join(pset, ", "), len(pargs)),
			pargs...)
		if err != nil {
			return nil, fmt.Errorf("update contact: profile update failed: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update contact: commit failed: %w", err)
	}
	return r.GetUserByID(ctx, userID)
}

func (r *PostgresUserRepo) UsernameExists(ctx context.Context, username string, excludeID *uuid.UUID) (bool, error) {
	return r.fieldExists(ctx, "username", username, excludeID)
}

func (r *PostgresUserRepo) EmailExists(ctx context.Context, email string, excludeID *uuid.UUID) (bool, error) {
	return r.fieldExists(ctx, "email", email, excludeID)
}

func (r *PostgresUserRepo) fieldExists(ctx context.Context, column, value string, excludeID *uuid.UUID) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM users WHERE %s = $1", column)
	args := []any{value}
	if excludeID != nil {
		query += " AND id <> $2"
		args = append(args, *excludeID)
	}
	query += ")"

	var exists bool
	if err := r.pgpool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s exists: query failed: %w", column, err)
	}
	return exists, nil
}

func (r *PostgresUserRepo) ListProfiles(ctx context.Context) ([]types.ProfileSummary, error) {
	// One summary per distinct name, preferring the template row as the
	// canonical id, plus how many users carry the profile.
	query := `
		SELECT DISTINCT ON (p.name)
			p.id, p.name, p.description, p.permissions,
			(SELECT COUNT(*) FROM profiles c WHERE c.name = p.name AND c.user_id IS NOT NULL)
		FROM profiles p
		ORDER BY p.name, p.user_id NULLS FIRST
	`
	rows, err := r.pgpool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list profiles: query failed: %w", err)
	}
	defer rows.Close()

	profiles := make([]types.ProfileSummary, 0)
	for rows.Next() {
		var p types.ProfileSummary
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Permissions, &p.UserCount); err != nil {
			return nil, fmt.Errorf("list profiles: scan failed: %w", err)
		}
		if p.Permissions == nil {
			p.Permissions = []string{}
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: rows: %w", err)
	}
	return profiles, nil
}

func (r *PostgresUserRepo) CreateProfile(ctx context.Context, params types.CreateProfileParams) (*types.ProfileSummary, error) {
	permissions := params.Permissions
	if permissions == nil {
		permissions = []string{}
	}

	var exists bool
	err := r.pgpool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM profiles WHERE name = $1)", params.Name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("create profile: uniqueness check failed: %w", err)
	}
	if exists {
		return nil, types.ErrConflict
	}

	var profile types.ProfileSummary
	err = r.pgpool.QueryRow(ctx, `
		INSERT INTO profiles (name, description, permissions)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, permissions`,
		params.Name, params.Description, permissions,
	).Scan(&profile.ID, &profile.Name, &profile.Description, &profile.Permissions)
	if err != nil {
		return nil, fmt.Errorf("create profile: insert failed: %w", err)
	}
	return &profile, nil
}

// UpdateProfile edits the role: every row sharing the name is updated, so
// assigned users pick up a renamed role or changed permission set immediately.
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, profileID uuid.UUID, params types.UpdateProfileParams) (*types.ProfileSummary, error) {
	set := []string{"updated_at = NOW()"}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if params.Name != nil {
		add("name", *params.Name)
	}
	if params.Description != nil {
		add("description", *params.Description)
	}
	if params.Permissions != nil {
		add("permissions", params.Permissions)
	}

	args = append(args, profileID)
	query := fmt.Sprintf(`
		UPDATE profiles SET %s
		WHERE name = (SELECT name FROM profiles WHERE id = $%d)`,
		strings.Join(set, ", "), len(args))

	tag, err := r.pgpool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.ErrConflict
		}
		return nil, fmt.Errorf("update profile: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrNotFound
	}

	var profile types.ProfileSummary
	err = r.pgpool.QueryRow(ctx, `
		SELECT p.id, p.name, p.description, p.permissions,
			(SELECT COUNT(*) FROM profiles c WHERE c.name = p.name AND c.user_id IS NOT NULL)
		FROM profiles p
		WHERE p.id = $1`,
		profileID,
	).Scan(&profile.ID, &profile.Name, &profile.Description, &profile.Permissions, &profile.UserCount)
	if err != nil {
		return nil, fmt.Errorf("update profile: reload failed: %w", err)
	}
	if profile.Permissions == nil {
		profile.Permissions = []string{}
	}
	return &profile, nil
}

func (r *PostgresUserRepo) DeleteProfile(ctx context.Context, profileID uuid.UUID) error {
	var assigned int
	err := r.pgpool.QueryRow(ctx, `
		SELECT COUNT(*) FROM profiles
		WHERE name = (SELECT name FROM profiles WHERE id = $1) AND user_id IS NOT NULL`,
		profileID).Scan(&assigned)
	if err != nil {
		return fmt.Errorf("delete profile: assignment check failed: %w", err)
	}
	if assigned > 0 {
		return types.ErrConflict
	}

	tag, err := r.pgpool.Exec(ctx, "DELETE FROM profiles WHERE id = $1", profileID)
	if err != nil {
		return fmt.Errorf("delete profile: db delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) ReplacePermissions(ctx context.Context, userID uuid.UUID, permissions []string) (*types.User, error) {
	if permissions == nil {
		permissions = []string{}
	}
	tag, err := r.pgpool.Exec(ctx,
		"UPDATE profiles SET permissions = $1, updated_at = NOW() WHERE user_id = $2",
		permissions, userID)
	if err != nil {
		return nil, fmt.Errorf("replace permissions: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrNotFound
	}
	return r.GetUserByID(ctx, userID)
}

func (r *PostgresUserRepo) SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	tag, err := r.pgpool.Exec(ctx,
		"UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2",
		passwordHash, userID)
	if err != nil {
		return fmt.Errorf("set password: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}
