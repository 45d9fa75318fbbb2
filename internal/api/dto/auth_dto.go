package dto

import (
	"time"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

// LoginRequest payload for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserSummary is the public view of a directory user.
type UserSummary struct {
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Role      domain.UserRole `json:"role"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      UserSummary `json:"user"`
}

// NewAuthResponse maps an issued token.
func NewAuthResponse(token *domain.AccessToken) AuthResponse {
	u := token.User
	return AuthResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
		User: UserSummary{
			ID:        u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Role:      u.Role,
		},
	}
}
