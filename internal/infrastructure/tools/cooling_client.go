package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/labdata/backend/internal/application/lifecycle"
	domain "github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/infrastructure/auth"
	"github.com/labdata/backend/internal/infrastructure/config"
	"github.com/labdata/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var (
	// ErrDispatchRejected is returned when the cooling API answers with
	// anything other than 202 Accepted and retrying will not help
	ErrDispatchRejected = errors.New("tools: cooling API rejected the transfer")
	// ErrUnavailable is returned when the cooling API could not be reached
	// or kept failing after all retries
	ErrUnavailable = errors.New("tools: cooling API unavailable")
)

const projectPlaceholder = "{project}"

// TokenIssuer issues the bearer token sent with each dispatch
type TokenIssuer interface {
	Issue(input auth.IssueInput) (*auth.Token, error)
}

// transferRequest is the body sent to the cool and restore endpoints
type transferRequest struct {
	OperationID uuid.UUID `json:"operation_id"`
	ProjectSlug string    `json:"project_slug"`
	Type        string    `json:"type"`
	BytesTotal  int64     `json:"bytes_total"`
	FilesTotal  int64     `json:"files_total"`
	CallbackURL string    `json:"callback_url,omitempty"`
}

// CoolingClient calls the external cooling API
type CoolingClient struct {
	cfg        config.ToolsConfig
	httpClient *http.Client
	tokens     TokenIssuer
	logger     *zap.Logger

	mu    sync.Mutex
	token *auth.Token
}

// NewCoolingClient creates a new CoolingClient. tokens may be nil, in
// which case requests carry no Authorization header.
func NewCoolingClient(cfg config.ToolsConfig, tokens TokenIssuer, logger *zap.Logger) *CoolingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.TokenScope == "" {
		cfg.TokenScope = auth.ScopeDispatch
	}
	if cfg.TokenSubject == "" {
		cfg.TokenSubject = "lab-lifecycle"
	}
	return &CoolingClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger.Named("cooling_client"),
	}
}

// Dispatch asks the cooling API to start a transfer. 5xx answers, 429 and
// network errors are retried with exponential backoff; any other answer
// except 202 fails immediately with ErrDispatchRejected.
func (c *CoolingClient) Dispatch(ctx context.Context, req lifecycle.DispatchRequest) (err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "cooling_api.dispatch",
		attribute.String("operation_id", req.OperationID.String()),
		attribute.String("operation_type", string(req.Type)),
		attribute.String("project_slug", req.ProjectSlug),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	endpoint, err := c.endpoint(req.Type, req.ProjectSlug)
	if err != nil {
		return err
	}
	body, err := json.Marshal(transferRequest{
		OperationID: req.OperationID,
		ProjectSlug: req.ProjectSlug,
		Type:        string(req.Type),
		BytesTotal:  req.BytesTotal,
		FilesTotal:  req.FilesTotal,
		CallbackURL: c.cfg.CallbackURL,
	})
	if err != nil {
		return fmt.Errorf("tools: failed to encode request: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		return c.post(ctx, endpoint, body)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("cooling API call failed, retrying",
			zap.String("operation_id", req.OperationID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(c.backOff(), ctx), notify)
	if err != nil {
		if errors.Is(err, ErrDispatchRejected) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, ctxErr)
		}
		return err
	}
	return nil
}

func (c *CoolingClient) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.RetryInterval > 0 {
		b.InitialInterval = c.cfg.RetryInterval
	}
	b.MaxElapsedTime = 0
	maxRetries := c.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(b, uint64(maxRetries))
}

// post sends one request. Errors that must not be retried are wrapped in
// backoff.Permanent.
func (c *CoolingClient) post(ctx context.Context, endpoint string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("tools: failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	if c.tokens != nil {
		token, err := c.bearer()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("tools: failed to issue token: %w", err))
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err()))
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	default:
		return backoff.Permanent(fmt.Errorf("%w: HTTP %d %s", ErrDispatchRejected, resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
}

// bearer returns a cached token, issuing a new one when it is about to expire
func (c *CoolingClient) bearer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && time.Until(c.token.ExpiresAt) > time.Minute {
		return c.token.AccessToken, nil
	}
	token, err := c.tokens.Issue(auth.IssueInput{
		Subject: c.cfg.TokenSubject,
		Scopes:  []string{c.cfg.TokenScope},
		TTL:     c.cfg.TokenExpiry,
	})
	if err != nil {
		return "", err
	}
	c.token = token
	return token.AccessToken, nil
}

// endpoint resolves the path template of the operation type against the base URL
func (c *CoolingClient) endpoint(opType domain.OperationType, projectSlug string) (string, error) {
	path := c.cfg.CoolPath
	if opType == domain.OperationTypeRestore {
		path = c.cfg.RestorePath
	}
	if c.cfg.BaseURL == "" || path == "" {
		return "", fmt.Errorf("%w: no endpoint configured for %s", ErrDispatchRejected, opType)
	}
	path = strings.ReplaceAll(path, projectPlaceholder, url.PathEscape(projectSlug))
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

var _ lifecycle.CoolingAPI = (*CoolingClient)(nil)
