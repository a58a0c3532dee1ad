package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/conduit/pkg/models"
)

// JWTService handles token signing and verification.
type JWTService struct {
	secret   []byte
	expiry   time.Duration
	issuer   string
	audience string
}

// NewJWTService builds a JWT helper with the given secret and expiry.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Claims carries the identity fields conduit reads from a token.
type Claims struct {
	AccountID string   `json:"account_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the given identity.
func (s *JWTService) Generate(identity *models.Identity) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if identity == nil || strings.TrimSpace(identity.Subject) == "" {
		return "", errors.New("subject required")
	}

	now := time.Now()
	claims := Claims{
		AccountID: strings.TrimSpace(identity.AccountID),
		Roles:     identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.Subject,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT and returns the identity embedded in it.
func (s *JWTService) Validate(token string) (*models.Identity, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &models.Identity{
		Subject:   claims.Subject,
		AccountID: strings.TrimSpace(claims.AccountID),
		Roles:     claims.Roles,
	}, nil
}
