package types

import (
	"time"

	"github.com/google/uuid"
)

// User is the core identity record. Password hash is never serialized.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        *string    `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	FirstName    *string    `json:"firstName,omitempty"`
	LastName     *string    `json:"lastName,omitempty"`
	Active       bool       `json:"active"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Profile      *Profile   `json:"profile,omitempty"`
}

// Profile extends a User with display data and the permission set. At most one
// Profile exists per User.
type Profile struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"-"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	Permissions  []string  `json:"permissions"`
	Phone        *string   `json:"phone,omitempty"`
	Department   *string   `json:"department,omitempty"`
	Position     *string   `json:"position,omitempty"`
	ProfileImage *string   `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// Session ties an issued access token to its owning user. A request is
// authenticated only while a matching row exists and now < ExpiresAt.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserParams carries admin-supplied fields for user creation.
type CreateUserParams struct {
	Username    string  `json:"username"`
	Email       *string `json:"email,omitempty"`
	Password    string  `json:"password"`
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	ProfileName *string `json:"profileName,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// UpdateUserParams carries partial updates; nil means "leave unchanged".
type UpdateUserParams struct {
	Username    *string `json:"username,omitempty"`
	Email       *string `json:"email,omitempty"`
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	ProfileName *string `json:"profileName,omitempty"`
	Active      *bool   `json:"active,omitempty"`
	Password    *string `json:"password,omitempty"`
}

// UpdateContactParams is the self-service profile update payload.
type UpdateContactParams struct {
	FirstName  *string `json:"firstName,omitempty"`
	LastName   *string `json:"lastName,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
	Position   *string `json:"position,omitempty"`
}

// ListUsersParams mirrors the user table screen's query string.
type ListUsersParams struct {
	Page      int
	Limit     int
	Search    string
	Status    string // "active", "inactive" or "" for all
	Profile   string
	SortBy    string // "name", "username", "lastLogin"; anything else sorts by createdAt
	SortOrder string // "asc" or "desc"
}

// ProfileSummary is a profile along with how many users reference it.
type ProfileSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	UserCount   int       `json:"userCount"`
}

// CreateProfileParams carries fields for profile creation.
type CreateProfileParams struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// UpdateProfileParams carries partial profile updates.
type UpdateProfileParams struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}
