package backend

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errNoExpiry = errors.New("backend: token carries no exp claim")

// UnverifiedClaims decodes a bearer token's claims without checking the
// signature. The result is informational only; the backend stays the authority.
func UnverifiedClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// TokenExpiry returns the exp claim of an unverified token.
func TokenExpiry(token string) (time.Time, error) {
	claims, err := UnverifiedClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errNoExpiry
	}
	return exp.Time, nil
}

// tokenSubject returns the username embedded in a token, if any.
func tokenSubject(token string) string {
	claims, err := UnverifiedClaims(token)
	if err != nil {
		return ""
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	if name, ok := claims["username"].(string); ok {
		return name
	}
	return ""
}
