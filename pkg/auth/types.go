package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

// Subject is the authenticated caller resolved from a bearer token
type Subject struct {
	UserID int64       `json:"userId"`
	Role   domain.Role `json:"role"`
}

// IsSeller reports whether the subject may own courses
func (s *Subject) IsSeller() bool {
	return s != nil && s.Role == domain.RoleSeller
}

// HasRole checks the subject's role
func (s *Subject) HasRole(role domain.Role) bool {
	return s != nil && s.Role == role
}

// Claims is the JWT payload
type Claims struct {
	UserID int64       `json:"userId"`
	Role   domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}
