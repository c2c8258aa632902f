package auth

import (
	"github.com/google/uuid"

	"github.com/saldiviabuses/erp-server/internal/types"
)

// Reserved identifiers for the break-glass identity. They are fixed so tokens
// minted while the database is down keep working after it comes back.
var (
	BreakglassUserID    = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	BreakglassProfileID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the access token twice. "token" is the legacy field
// the client still reads.
type LoginResponse struct {
	Message      string      `json:"message"`
	User         *types.User `json:"user"`
	Token        string      `json:"token"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type MeResponse struct {
	User *types.User `json:"user"`
}

// Response is a generic success/error envelope for simple endpoints.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
