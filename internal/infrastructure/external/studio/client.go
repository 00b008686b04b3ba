// Package studio implements the generation studio API client: the external
// AI image service that renders character cards. The client maps transport
// and status-code failures onto the stable domain error taxonomy; raw studio
// error text is logged but never surfaced to students.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cardforge/cardforge/internal/application/generation"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the studio client.
type Config struct {
	// BaseURL is the studio API base URL.
	BaseURL string

	// APIKey authenticates this deployment with the studio.
	APIKey string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request-level debug logging.
	Debug bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the generation studio over HTTP. It satisfies
// generation.Client. The circuit breaker sits in front of every call so a
// down studio sheds load fast instead of stacking up timeouts.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a studio client.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	logger := config.Logger
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
		breaker: circuitbreaker.StudioBreaker(
			func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			},
			// Rejections are the studio saying no to this job, not the studio
			// being down; they must not open the circuit.
			func(err error) bool {
				return err != nil && !errors.Is(err, shared.ErrRejected)
			},
		),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Submit sends a generation job. The idempotency key rides both in the body
// and in the Idempotency-Key header, so a retried submission after a lost
// response reattaches to the job the studio already accepted.
func (c *Client) Submit(ctx context.Context, req generation.SubmitRequest) (shared.JobHandle, error) {
	dto := SubmitJobDTO{
		IdempotencyKey: req.IdempotencyKey,
		Prompt:         req.Prompt,
		Attributes:     attributeMap(req),
		QualityWeight:  int(req.QualityWeight),
		Level:          req.Selection.Level,
		Border:         string(req.Selection.Border),
	}

	var accepted JobAcceptedDTO
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodPost, "/api/v1/jobs", req.IdempotencyKey, dto, &accepted)
	})
	if err != nil {
		return "", c.mapSubmitError(err)
	}
	if accepted.JobID == "" {
		return "", shared.ErrStudioInvalidResponse
	}

	if c.config.Debug {
		c.logger.Debug("job submitted", "job_id", accepted.JobID, "idempotency_key", req.IdempotencyKey)
	}
	return shared.JobHandle(accepted.JobID), nil
}

// Poll fetches the current status of a submitted job.
func (c *Client) Poll(ctx context.Context, handle shared.JobHandle) (generation.PollResult, error) {
	path := fmt.Sprintf("/api/v1/jobs/%s", url.PathEscape(handle.String()))

	var status JobStatusDTO
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodGet, path, "", nil, &status)
	})
	if err != nil {
		return generation.PollResult{}, c.mapPollError(err)
	}
	return status.toPollResult(), nil
}

// IsHealthy checks whether the studio answers its health endpoint.
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.doRequest(ctx, http.MethodGet, "/health", "", nil, nil) == nil
}

// BreakerState exposes the circuit state for the health endpoint.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) doRequest(ctx context.Context, method, path, idempotencyKey string, body, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	if c.config.Debug {
		c.logger.Debug("studio api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shared.WrapError("studio", "Request", shared.ErrServiceUnavailable, "http request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return shared.WrapError("studio", "Request", shared.ErrServiceUnavailable, "read response failed", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return shared.WrapError("studio", "Parse", shared.ErrInvalidFormat, "unmarshal response failed", err)
		}
	}
	return nil
}

// mapSubmitError classifies a submit failure: client-side rejections (4xx)
// are permanent, everything else counts as the studio being unreachable and
// is fair game for a bounded retry.
func (c *Client) mapSubmitError(err error) error {
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
			c.logger.Info("studio rejected job", "code", apiErr.Code, "message", apiErr.Message)
			return shared.WrapError("studio", "Submit", shared.ErrRejected, "job rejected", err)
		}
		return shared.WrapError("studio", "Submit", shared.ErrServiceUnavailable, "studio error response", err)
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("studio", "Submit", shared.ErrServiceUnavailable, "circuit open", err)
	}
	if shared.IsExternalService(err) {
		return err
	}
	return shared.WrapError("studio", "Submit", shared.ErrServiceUnavailable, "submit failed", err)
}

// mapPollError classifies a poll failure. Polls are repeated anyway, so
// almost everything maps to a transient error; a 404 means the studio no
// longer knows the job.
func (c *Client) mapPollError(err error) error {
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return shared.WrapError("studio", "Poll", shared.ErrNotFound, "job not found", err)
	}
	if shared.IsExternalService(err) || errors.Is(err, shared.ErrInvalidFormat) {
		return err
	}
	return shared.WrapError("studio", "Poll", shared.ErrServiceUnavailable, "poll failed", err)
}

// attributeMap flattens the selection picks for the wire.
func attributeMap(req generation.SubmitRequest) map[string]string {
	attrs := make(map[string]string, len(req.Selection.Picks))
	for slot, pick := range req.Selection.Picks {
		attrs[string(slot)] = pick.Option
	}
	return attrs
}
