package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints tokens signed with the gateway secret. Production tokens come
// from the user service; this exists for local tooling and tests.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string, opts ...Option) *Issuer {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Issuer{secret: []byte(secret), now: o.now}
}

// Issue returns a HS256 token for subject that expires after ttl.
func (i *Issuer) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
