package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// SessionClaims is the session payload shared by the identity service and TokenIssuer.
// UserID and Subject carry the same agent id.
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserCity        string   `json:"user_city,omitempty"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the session carries role (case-insensitive).
func (c SessionClaims) HasRole(role string) bool {
	for _, candidate := range c.UserRoles {
		if strings.EqualFold(strings.TrimSpace(candidate), role) {
			return true
		}
	}
	return false
}
