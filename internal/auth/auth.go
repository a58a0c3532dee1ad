// Package auth turns bearer credentials into caller identities.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Config configures authentication.
type Config struct {
	JWTSecret   string         `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer      string         `yaml:"issuer" json:"issuer"`
	Audience    string         `yaml:"audience" json:"audience"`
	TokenExpiry time.Duration  `yaml:"token_expiry" json:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys" json:"api_keys"`

	// Required rejects requests without credentials. When false, such
	// requests proceed unauthenticated and the policy's unauthenticated mode
	// applies.
	Required bool `yaml:"required" json:"required"`
}

// APIKeyConfig declares a static API key and associated identity.
type APIKeyConfig struct {
	Key       string   `yaml:"key" json:"key"`
	Subject   string   `yaml:"subject" json:"subject"`
	AccountID string   `yaml:"account_id" json:"account_id"`
	Roles     []string `yaml:"roles" json:"roles"`
}

// Service validates JWTs and API keys.
type Service struct {
	jwt      *JWTService
	apiKeys  map[string]*models.Identity
	required bool
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{required: cfg.Required}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
		service.jwt.issuer = strings.TrimSpace(cfg.Issuer)
		service.jwt.audience = strings.TrimSpace(cfg.Audience)
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	return service
}

// Enabled reports whether any credential type is configured.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// Required reports whether anonymous requests are rejected.
func (s *Service) Required() bool {
	return s != nil && s.required
}

// GenerateJWT issues a signed token for the given identity.
func (s *Service) GenerateJWT(identity *models.Identity) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(identity)
}

// ValidateJWT validates a JWT and returns the embedded identity.
func (s *Service) ValidateJWT(token string) (*models.Identity, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey validates an API key using constant-time comparison.
func (s *Service) ValidateAPIKey(key string) (*models.Identity, error) {
	if s == nil || len(s.apiKeys) == 0 {
		return nil, ErrAuthDisabled
	}
	inputKey := strings.TrimSpace(key)
	var matched *models.Identity
	for storedKey, identity := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(inputKey), []byte(storedKey)) == 1 {
			matched = identity
		}
	}
	if matched == nil {
		return nil, ErrInvalidKey
	}
	clone := *matched
	clone.Roles = append([]string(nil), matched.Roles...)
	return &clone, nil
}

func buildAPIKeyMap(keys []APIKeyConfig) map[string]*models.Identity {
	out := map[string]*models.Identity{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		subject := strings.TrimSpace(entry.Subject)
		if subject == "" {
			sum := sha256.Sum256([]byte(key))
			subject = "api_" + hex.EncodeToString(sum[:8])
		}
		out[key] = &models.Identity{
			Subject:   subject,
			AccountID: strings.TrimSpace(entry.AccountID),
			Roles:     append([]string(nil), entry.Roles...),
		}
	}
	return out
}
