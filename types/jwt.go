package types

import "github.com/golang-jwt/jwt/v5"

// Claims represents the JWT claims issued by the auth provider. The user id is the subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}
