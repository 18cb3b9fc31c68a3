package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the role claim on top of the registered set. Expiry and
// not-before are validated by the jwt library when present.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT validates an HS256 bearer token and returns its claims with the
// role normalized. Tokens without a known role are rejected.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	); err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	role, ok := NormalizeRole(claims.Role)
	if !ok {
		return nil, errors.New("auth: unknown role")
	}
	claims.Role = string(role)
	return claims, nil
}
