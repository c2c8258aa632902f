package types

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotFound = errors.New("requested item not found")
var ErrConflict = errors.New("item already exists or conflict")
var ErrUnauthenticated = errors.New("authentication required or invalid credentials")
var ErrForbidden = errors.New("action forbidden")
var ErrAccountInactive = errors.New("account is inactive")
var ErrValidation = errors.New("validation failed")

// Claims represents the custom claims carried by the access token.
// Field names match what the client reads out of the decoded token.
type Claims struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	ProfileID string `json:"profileId,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the minimal claim set of the refresh token, signed with a
// secret distinct from the access token's.
type RefreshClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}
