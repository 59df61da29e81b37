package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labdata/backend/internal/infrastructure/config"
)

// Scopes granted to lifecycle API clients
const (
	// ScopeCallback lets the cooling API report transfer results
	ScopeCallback = "lifecycle:callback"
	// ScopeAdmin lets operators manage projects and operations
	ScopeAdmin = "lifecycle:admin"
	// ScopeDispatch is carried by tokens this service sends to the cooling API
	ScopeDispatch = "lifecycle:dispatch"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingSubject   = errors.New("missing subject in claims")
	ErrTokenRevoked     = errors.New("token has been revoked")
)

// Claims represents the JWT claims of a lifecycle API token
type Claims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id,omitempty"`
	Scopes   []string `json:"scopes"`
}

// Token is a signed token with its expiry
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"` // Bearer
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      []string  `json:"scopes"`
	ID          string    `json:"-"`
}

// IssueInput contains input for token generation
type IssueInput struct {
	Subject  string
	ClientID string
	Scopes   []string
	// TTL overrides the configured expiration when positive
	TTL time.Duration
}

// TokenService issues and validates HS256 tokens
type TokenService struct {
	secret     []byte
	issuer     string
	expiration time.Duration
	now        func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(cfg config.AuthConfig) *TokenService {
	expiration := cfg.TokenExpiration
	if expiration <= 0 {
		expiration = time.Hour
	}
	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		expiration: expiration,
		now:        time.Now,
	}
}

// Issue generates a signed token for the subject with the given scopes
func (s *TokenService) Issue(input IssueInput) (*Token, error) {
	if input.Subject == "" {
		return nil, ErrMissingSubject
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.expiration
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   input.Subject,
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ClientID: input.ClientID,
		Scopes:   input.Scopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
		Scopes:      input.Scopes,
		ID:          claims.ID,
	}, nil
}

// Validate parses a token, checks signature, issuer and lifetime and
// returns its claims
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// Expiration returns the default token lifetime
func (s *TokenService) Expiration() time.Duration {
	return s.expiration
}

// HasScope checks if the claims grant a specific scope
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// HasAnyScope checks if the claims grant any of the specified scopes
func (c *Claims) HasAnyScope(scopes ...string) bool {
	for _, required := range scopes {
		if c.HasScope(required) {
			return true
		}
	}
	return false
}

// GetExpiresAtTime returns the token's expiration time as time.Time
func (c *Claims) GetExpiresAtTime() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// GetRemainingTTL returns the remaining time until the token expires
func (c *Claims) GetRemainingTTL() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := time.Until(c.ExpiresAt.Time)
	if remaining < 0 {
		return 0
	}
	return remaining
}
