package user

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/saldiviabuses/erp-server/internal/api/audit"
	"github.com/saldiviabuses/erp-server/internal/api/auth"
	"github.com/saldiviabuses/erp-server/internal/types"
)

var _ UserService = (*UserServiceImpl)(nil)

// RequestMeta carries the client address and agent of the originating request
// for audit rows.
type RequestMeta struct {
	IPAddress *string
	UserAgent *string
}

// UserListResult is a page of users plus the pagination envelope.
type UserListResult struct {
	Users      []types.User `json:"users"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	TotalPages int          `json:"totalPages"`
}

type UserService interface {
	ListUsers(ctx context.Context, params types.ListUsersParams) (*UserListResult, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error)
	CreateUser(ctx context.Context, actor *types.User, params types.CreateUserParams, meta RequestMeta) (*types.User, error)
	UpdateUser(ctx context.Context, actor *types.User, userID uuid.UUID, params types.UpdateUserParams, meta RequestMeta) (*types.User, error)
	DeleteUser(ctx context.Context, actor *types.User, userID uuid.UUID, meta RequestMeta) error

	// UpdateOwnContact edits the caller's own contact fields. The break-glass
	// identity is routed to the fallback store instead of the database.
	UpdateOwnContact(ctx context.Context, actor *types.User, params types.UpdateContactParams) (*types.User, error)

	ListProfiles(ctx context.Context) ([]types.ProfileSummary, error)
	CreateProfile(ctx context.Context, actor *types.User, params types.CreateProfileParams, meta RequestMeta) (*types.ProfileSummary, error)
	UpdateProfile(ctx context.Context, actor *types.User, profileID uuid.UUID, params types.UpdateProfileParams, meta RequestMeta) (*types.ProfileSummary, error)
	DeleteProfile(ctx context.Context, actor *types.User, profileID uuid.UUID, meta RequestMeta) error

	ReplacePermissions(ctx context.Context, actor *types.User, userID uuid.UUID, permissions []string, meta RequestMeta) (*types.User, error)
	SetPassword(ctx context.Context, actor *types.User, userID uuid.UUID, newPassword string, meta RequestMeta) error
	GetHistory(ctx context.Context, actor *types.User, userID uuid.UUID) ([]types.AuditLogEntry, error)
}

type UserServiceImpl struct {
	logger   *slog.Logger
	repo     UserRepo
	recorder *audit.Recorder
	auditor  audit.Repo
	fallback *FallbackStore
}

func NewUserService(repo UserRepo, auditor audit.Repo, fallback *FallbackStore, logger *slog.Logger) *UserServiceImpl {
	return &UserServiceImpl{
		logger:   logger,
		repo:     repo,
		recorder: audit.NewRecorder(auditor, logger),
		auditor:  auditor,
		fallback: fallback,
	}
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", types.ErrValidation, msg)
}

func validateUsername(username string) error {
	if len(username) < 3 {
		return validationError("username must be at least 3 characters")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 {
		return validationError("password must be at least 6 characters")
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return validationError("email format is invalid")
	}
	return nil
}

const historyLimit = 100

func (s *UserServiceImpl) ListUsers(ctx context.Context, params types.ListUsersParams) (*UserListResult, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 10
	}

	users, total, err := s.repo.ListUsers(ctx, params)
	if err != nil {
		return nil, err
	}

	totalPages := total / params.Limit
	if total%params.Limit != 0 {
		totalPages++
	}
	return &UserListResult{
		Users:      users,
		Total:      total,
		Page:       params.Page,
		Limit:      params.Limit,
		TotalPages: totalPages,
	}, nil
}

func (s *UserServiceImpl) GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

func (s *UserServiceImpl) CreateUser(ctx context.Context, actor *types.User, params types.CreateUserParams, meta RequestMeta) (*types.User, error) {
	if err := validateUsername(params.Username); err != nil {
		return nil, err
	}
	if err := validatePassword(params.Password); err != nil {
		return nil, err
	}
	if params.Email != nil && *params.Email != "" {
		if err := validateEmail(*params.Email); err != nil {
			return nil, err
		}
	}

	taken, err := s.repo.UsernameExists(ctx, params.Username, nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, types.ErrConflict
	}
	if params.Email != nil && *params.Email != "" {
		taken, err = s.repo.EmailExists(ctx, *params.Email, nil)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, types.ErrConflict
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("create user: hash failed: %w", err)
	}

	created, err := s.repo.CreateUser(ctx, params, string(hash))
	if err != nil {
		return nil, err
	}

	resourceID := created.ID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "CREATE",
		Resource:   "users",
		ResourceID: &resourceID,
		NewValues:  auditUserValues(created),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return created, nil
}

func (s *UserServiceImpl) UpdateUser(ctx context.Context, actor *types.User, userID uuid.UUID, params types.UpdateUserParams, meta RequestMeta) (*types.User, error) {
	if params.Username != nil {
		if err := validateUsername(*params.Username); err != nil {
			return nil, err
		}
	}
	if params.Email != nil && *params.Email != "" {
		if err := validateEmail(*params.Email); err != nil {
			return nil, err
		}
	}
	var passwordHash *string
	if params.Password != nil {
		if err := validatePassword(*params.Password); err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*params.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("update user: hash failed: %w", err)
		}
		hashed := string(hash)
		passwordHash = &hashed
	}

	before, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if params.Username != nil && *params.Username != before.Username {
		taken, err := s.repo.UsernameExists(ctx, *params.Username, &userID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, types.ErrConflict
		}
	}
	if params.Email != nil && *params.Email != "" {
		taken, err := s.repo.EmailExists(ctx, *params.Email, &userID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, types.ErrConflict
		}
	}

	updated, err := s.repo.UpdateUser(ctx, userID, params, passwordHash)
	if err != nil {
		return nil, err
	}

	resourceID := userID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "UPDATE",
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  auditUserValues(before),
		NewValues:  auditUserValues(updated),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return updated, nil
}

func (s *UserServiceImpl) DeleteUser(ctx context.Context, actor *types.User, userID uuid.UUID, meta RequestMeta) error {
	if actor.ID == userID {
		return fmt.Errorf("%w: cannot delete own account", types.ErrForbidden)
	}
	if userID == auth.BreakglassUserID {
		return fmt.Errorf("%w: reserved account", types.ErrForbidden)
	}

	before, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	// Record first so the trail survives even if logging after the delete
	// were interrupted.
	resourceID := userID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "DELETE",
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  auditUserValues(before),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return s.repo.DeleteUser(ctx, userID)
}

func (s *UserServiceImpl) UpdateOwnContact(ctx context.Context, actor *types.User, params types.UpdateContactParams) (*types.User, error) {
	if params.Email != nil && *params.Email != "" {
		if err := validateEmail(*params.Email); err != nil {
			return nil, err
		}
	}

	if actor.ID == auth.BreakglassUserID {
		if err := s.fallback.UpdateContact(params); err != nil {
			return nil, err
		}
		updated := *actor
		if actor.Profile != nil {
			profileCopy := *actor.Profile
			updated.Profile = &profileCopy
		}
		s.fallback.Apply(&updated)
		return &updated, nil
	}

	return s.repo.UpdateContact(ctx, actor.ID, params)
}

func (s *UserServiceImpl) ListProfiles(ctx context.Context) ([]types.ProfileSummary, error) {
	return s.repo.ListProfiles(ctx)
}

func (s *UserServiceImpl) CreateProfile(ctx context.Context, actor *types.User, params types.CreateProfileParams, meta RequestMeta) (*types.ProfileSummary, error) {
	if params.Name == "" {
		return nil, validationError("profile name is required")
	}

	created, err := s.repo.CreateProfile(ctx, params)
	if err != nil {
		return nil, err
	}

	resourceID := created.ID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "CREATE",
		Resource:   "profiles",
		ResourceID: &resourceID,
		NewValues:  created,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return created, nil
}

func (s *UserServiceImpl) UpdateProfile(ctx context.Context, actor *types.User, profileID uuid.UUID, params types.UpdateProfileParams, meta RequestMeta) (*types.ProfileSummary, error) {
	if params.Name != nil && *params.Name == "" {
		return nil, validationError("profile name cannot be empty")
	}

	updated, err := s.repo.UpdateProfile(ctx, profileID, params)
	if err != nil {
		return nil, err
	}

	resourceID := profileID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "UPDATE",
		Resource:   "profiles",
		ResourceID: &resourceID,
		NewValues:  updated,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return updated, nil
}

func (s *UserServiceImpl) DeleteProfile(ctx context.Context, actor *types.User, profileID uuid.UUID, meta RequestMeta) error {
	if err := s.repo.DeleteProfile(ctx, profileID); err != nil {
		return err
	}

	resourceID := profileID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "DELETE",
		Resource:   "profiles",
		ResourceID: &resourceID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

func (s *UserServiceImpl) ReplacePermissions(ctx context.Context, actor *types.User, userID uuid.UUID, permissions []string, meta RequestMeta) (*types.User, error) {
	before, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	var oldPermissions []string
	if before.Profile != nil {
		oldPermissions = before.Profile.Permissions
	}

	updated, err := s.repo.ReplacePermissions(ctx, userID, permissions)
	if err != nil {
		return nil, err
	}

	resourceID := userID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "UPDATE_PERMISSIONS",
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  map[string][]string{"permissions": oldPermissions},
		NewValues:  map[string][]string{"permissions": permissions},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return updated, nil
}

func (s *UserServiceImpl) SetPassword(ctx context.Context, actor *types.User, userID uuid.UUID, newPassword string, meta RequestMeta) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("set password: hash failed: %w", err)
	}
	if err = s.repo.SetPassword(ctx, userID, string(hash)); err != nil {
		return err
	}

	// Password values never go into the trail, only the fact of the change.
	resourceID := userID.String()
	s.recorder.Record(ctx, types.AuditRecord{
		UserID:     actor.ID,
		Action:     "UPDATE_PASSWORD",
		Resource:   "users",
		ResourceID: &resourceID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

func (s *UserServiceImpl) GetHistory(ctx context.Context, actor *types.User, userID uuid.UUID) ([]types.AuditLogEntry, error) {
	var permissions []string
	if actor.Profile != nil {
		permissions = actor.Profile.Permissions
	}
	if actor.ID != userID && !auth.HasPermission(permissions, "view_history") {
		return nil, types.ErrForbidden
	}
	return s.auditor.ListForUser(ctx, userID, historyLimit)
}

// auditUserValues is the subset of a user worth keeping in the trail. The
// password hash never appears.
func auditUserValues(u *types.User) map[string]any {
	values := map[string]any{
		"username": u.Username,
		"active":   u.Active,
	}
	if u.Email != nil {
		values["email"] = *u.Email
	}
	if u.FirstName != nil {
		values["firstName"] = *u.FirstName
	}
	if u.LastName != nil {
		values["lastName"] = *u.LastName
	}
	if u.Profile != nil {
		values["profile"] = u.Profile.Name
	}
	return values
}
