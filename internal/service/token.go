package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken creates a signed HS256 access token for userID. Production tokens come from
// the API tier; this is used by the CLI for local development and by tests.
func IssueToken(signKey []byte, userID, email string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(signKey)
	return signed, exp, err
}
