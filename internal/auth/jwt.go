// Package auth issues and checks the bearer tokens that guard the helper API.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuer = "subexplain"

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload. Client names the extension install or CLI
// that holds the token.
type Claims struct {
	Client string `json:"client"`
	jwtlib.RegisteredClaims
}

// JWTService signs HS256 tokens with a shared secret.
type JWTService struct {
	secret []byte
	now    func() time.Time
}

// NewJWTService returns nil for an empty secret, which disables auth.
func NewJWTService(secret string) *JWTService {
	if secret == "" {
		return nil
	}
	return &JWTService{secret: []byte(secret), now: time.Now}
}

// GenerateToken signs a token for client. A ttl of zero means no expiry.
func (s *JWTService) GenerateToken(client string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Client: client,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:   issuer,
			Subject:  client,
			IssuedAt: jwtlib.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwtlib.NewNumericDate(now.Add(ttl))
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken parses tokenStr and checks signature, issuer and expiry.
func (s *JWTService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwtlib.WithIssuer(issuer),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
