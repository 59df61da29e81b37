package handler

import "time"

// TokenRequest is a client credentials grant. The client may authenticate
// with HTTP Basic instead of the body fields.
type TokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type" binding:"required,oneof=client_credentials"`
	ClientID     string `form:"client_id" json:"client_id" binding:"max=100"`
	ClientSecret string `form:"client_secret" json:"client_secret" binding:"max=200"`
	// Scope is a space separated scope list; empty requests every scope the client owns
	Scope string `form:"scope" json:"scope" binding:"max=500"`
}

// TokenResponse is an issued access token
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scope       string    `json:"scope"`
}

// RevokeRequest names the token to revoke, either by its JWT id or by the
// token itself
type RevokeRequest struct {
	TokenID string `json:"jti" binding:"required_without=Token,max=100"`
	Token   string `json:"token" binding:"required_without=TokenID"`
}

// RevokeResponse confirms a revocation
type RevokeResponse struct {
	TokenID   string    `json:"jti"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
