package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role the admin API accepts.
const RoleAdmin = "admin"

// AdminTokenPayload captures the data available when minting an operator token.
type AdminTokenPayload struct {
	Subject string
	Role    string
	JTI     string
}

// AdminClaims is the typed JWT carried by admin API requests.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants admin access.
func (c *AdminClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
