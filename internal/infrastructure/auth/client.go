package auth

import (
	"errors"
	"slices"

	"github.com/labdata/backend/internal/infrastructure/config"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidClient   = errors.New("invalid client credentials")
	ErrScopeNotAllowed = errors.New("scope not allowed for client")
)

// dummyHash is compared against when the client id is unknown so both
// failure paths cost one bcrypt comparison
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unknown-client"), bcrypt.MinCost)

// Client is an API client allowed to request tokens
type Client struct {
	ID     string
	Scopes []string
}

// ClientAuthenticator checks client credentials against bcrypt hashes
type ClientAuthenticator struct {
	clients map[string]config.ClientConfig
}

// NewClientAuthenticator creates an authenticator for the configured clients
func NewClientAuthenticator(clients []config.ClientConfig) *ClientAuthenticator {
	byID := make(map[string]config.ClientConfig, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	return &ClientAuthenticator{clients: byID}
}

// Authenticate verifies the client secret
func (a *ClientAuthenticator) Authenticate(clientID, secret string) (*Client, error) {
	cfg, ok := a.clients[clientID]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return nil, ErrInvalidClient
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidClient
	}
	return &Client{ID: cfg.ID, Scopes: cfg.Scopes}, nil
}

// GrantScopes returns the requested scopes if the client owns all of them.
// An empty request grants every scope the client owns.
func (c *Client) GrantScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(c.Scopes), nil
	}
	for _, scope := range requested {
		if !slices.Contains(c.Scopes, scope) {
			return nil, ErrScopeNotAllowed
		}
	}
	return slices.Clone(requested), nil
}

// HashSecret returns the bcrypt hash to store in a client's secret_hash
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
