package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labdata/backend/internal/infrastructure/auth"
	"github.com/labdata/backend/internal/infrastructure/logger"
	"github.com/labdata/backend/internal/interfaces/http/dto"
	"github.com/labdata/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// ClientAuthenticator verifies client credentials
type ClientAuthenticator interface {
	Authenticate(clientID, secret string) (*auth.Client, error)
}

// AuthHandler issues and revokes API tokens
type AuthHandler struct {
	BaseHandler
	clients     ClientAuthenticator
	tokens      *auth.TokenService
	revocations auth.TokenRevocationList
	now         func() time.Time
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(clients ClientAuthenticator, tokens *auth.TokenService, revocations auth.TokenRevocationList) *AuthHandler {
	return &AuthHandler{
		clients:     clients,
		tokens:      tokens,
		revocations: revocations,
		now:         time.Now,
	}
}

// Token issues an access token for a client credentials grant
// @ID           issueToken
// @Summary      Issue an access token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body TokenRequest false "Client credentials, or use HTTP Basic"
// @Success      200 {object} dto.Response{data=TokenResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      429 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Router       /auth/token [post]
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if id, secret, ok := c.Request.BasicAuth(); ok {
		req.ClientID, req.ClientSecret = id, secret
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		h.Error(c, dto.ErrCodeUnauthorized, "Client credentials are required")
		return
	}

	log := logger.FromContext(c.Request.Context()).With(zap.String("client_id", req.ClientID))
	client, err := h.clients.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		log.Warn("Token request rejected", zap.Error(err))
		h.Error(c, dto.ErrCodeUnauthorized, "Invalid client credentials")
		return
	}

	scopes, err := client.GrantScopes(strings.Fields(req.Scope))
	if err != nil {
		log.Warn("Token request asked for scopes the client does not own",
			zap.String("scope", req.Scope))
		h.Error(c, dto.ErrCodeForbidden, "Requested scope is not allowed for this client")
		return
	}

	token, err := h.tokens.Issue(auth.IssueInput{
		Subject:  client.ID,
		ClientID: client.ID,
		Scopes:   scopes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	log.Info("Token issued", zap.Strings("scopes", scopes), zap.String("jti", token.ID))
	h.Success(c, TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   int64(token.ExpiresAt.Sub(h.now()).Seconds()),
		ExpiresAt:   token.ExpiresAt,
		Scope:       strings.Join(token.Scopes, " "),
	})
}

// Revoke adds a token id to the revocation list until the token would
// have expired. A bare id is kept for the longest token lifetime.
// @ID           revokeToken
// @Summary      Revoke a token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RevokeRequest true "Token or token id"
// @Success      200 {object} dto.Response{data=RevokeResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /auth/revoke [post]
func (h *AuthHandler) Revoke(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	now := h.now()
	jti := req.TokenID
	ttl := h.tokens.Expiration()
	if req.Token != "" {
		claims, err := h.tokens.Validate(req.Token)
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			h.Error(c, dto.ErrCodeInvalidInput, "Token has already expired")
			return
		case err != nil:
			h.Error(c, dto.ErrCodeInvalidInput, "Token is not valid")
			return
		}
		jti = claims.ID
		ttl = claims.GetRemainingTTL()
	}

	if err := h.revocations.Revoke(c.Request.Context(), jti, ttl); err != nil {
		h.HandleError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("Token revoked",
		zap.String("jti", jti),
		zap.String("revoked_by", middleware.GetJWTSubject(c)))
	h.Success(c, RevokeResponse{
		TokenID:   jti,
		RevokedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}
