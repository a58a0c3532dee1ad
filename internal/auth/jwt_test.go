package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestJWTServiceGenerateValidate(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Generate(&models.Identity{Subject: "user-1", AccountID: "acct-1", Roles: []string{"analyst"}})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	identity, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if identity.Subject != "user-1" || identity.AccountID != "acct-1" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != "analyst" {
		t.Fatalf("roles = %v", identity.Roles)
	}
}

func TestJWTServiceRejects(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	other := NewJWTService("other", time.Hour)
	foreign, _ := other.Generate(&models.Identity{Subject: "user-1"})

	expiredClaims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString([]byte("secret"))

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
		{"missing subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Validate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTServiceIssuerAudience(t *testing.T) {
	service := NewService(Config{JWTSecret: "secret", Issuer: "conduit", Audience: "api"})
	token, err := service.GenerateJWT(&models.Identity{Subject: "user-1"})
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	if _, err := service.ValidateJWT(token); err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}

	strict := NewService(Config{JWTSecret: "secret", Issuer: "someone-else"})
	if _, err := strict.ValidateJWT(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}

func TestDisabledService(t *testing.T) {
	service := NewService(Config{})
	if service.Enabled() {
		t.Fatal("empty config should disable auth")
	}
	if _, err := service.ValidateJWT("x"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if _, err := service.ValidateAPIKey("x"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
}

func TestValidateAPIKey(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{
		{Key: "key-1", Subject: "svc", AccountID: "acct", Roles: []string{"admin"}},
		{Key: "key-2"},
	}})

	identity, err := service.ValidateAPIKey(" key-1 ")
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if identity.Subject != "svc" || identity.AccountID != "acct" || identity.Roles[0] != "admin" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	identity.Roles[0] = "mutated"
	again, _ := service.ValidateAPIKey("key-1")
	if again.Roles[0] != "admin" {
		t.Fatal("returned identity must not alias configuration")
	}

	derived, err := service.ValidateAPIKey("key-2")
	if err != nil || len(derived.Subject) < 5 || derived.Subject[:4] != "api_" {
		t.Fatalf("expected derived subject, got %+v, %v", derived, err)
	}

	if _, err := service.ValidateAPIKey("nope"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
