package client

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiringSoon inspects the exp claim of a bearer token without
// verifying its signature. Opaque or malformed tokens report false; the
// server's 401 stays the authority on their validity.
func tokenExpiringSoon(token string, skew time.Duration) bool {
	if token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return false
	}

	return time.Until(expiry.Time) < skew
}
