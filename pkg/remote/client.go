package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/openfroyo/healthgraph/pkg/engine"
)

// DefaultTimeout bounds a single request when the config sets none.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4 << 10

// Config configures a remote service client.
type Config struct {
	// Endpoint is the service base URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"required,url"`

	// Timeout bounds each request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`

	// Headers are added to every request, e.g. an authorization header.
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// Client posts JSON to a remote service and classifies failures as engine
// errors: network failures, 429 and 5xx responses are transient, other
// failures are permanent.
type Client struct {
	base    string
	http    *http.Client
	headers map[string]string
	logger  zerolog.Logger
}

// NewClient creates a client for cfg.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		base:    strings.TrimRight(cfg.Endpoint, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		headers: cfg.Headers,
		logger:  logger.With().Str("component", "remote").Str("endpoint", cfg.Endpoint).Logger(),
	}, nil
}

// errorResponse is the error body remote services return.
type errorResponse struct {
	Error string `json:"error"`
}

// Post sends in as JSON to path and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return engine.NewPermanentError("failed to encode request", err)
	}

	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return engine.NewPermanentError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return engine.NewTimeoutError(fmt.Sprintf("request to %s timed out", path), err)
		}
		return engine.NewTransientError(fmt.Sprintf("request to %s failed", path), err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Remote call completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engine.NewPermanentError(fmt.Sprintf("invalid response from %s", path), err).
			WithCode(engine.ErrCodeContractViolation)
	}
	return nil
}

func statusError(path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(data))
	var er errorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		detail = er.Error
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	msg := fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, detail)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return engine.NewTransientError(msg, nil).WithCode(engine.ErrCodeRateLimited)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return engine.NewTimeoutError(msg, nil)
	case resp.StatusCode >= 500:
		return engine.NewTransientError(msg, nil)
	default:
		return engine.NewPermanentError(msg, nil).WithCode(engine.ErrCodeTaskFailed)
	}
}
