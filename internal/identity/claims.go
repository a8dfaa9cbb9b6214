package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the access-token claims the client reads. The token is
// not verified here; the client only needs the expiry to schedule refreshes.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// ParseAccessClaims decodes the claims of an access token without verifying its signature
func ParseAccessClaims(accessToken string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

// fillExpiry sets ExpiresAt from the token's exp claim, falling back to
// issuedAt+ExpiresIn when the token carries no expiry.
func fillExpiry(s *Session, issuedAt int64) {
	if s.ExpiresAt != 0 {
		return
	}
	if claims, err := ParseAccessClaims(s.AccessToken); err == nil && claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Unix()
		return
	}
	if s.ExpiresIn > 0 {
		s.ExpiresAt = issuedAt + int64(s.ExpiresIn)
	}
}
