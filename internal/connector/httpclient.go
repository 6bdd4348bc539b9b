package connector

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
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// xssiPrefix guards JSON bodies served by Gerrit.
const xssiPrefix = ")]}'"

const maxErrorBody = 512

// Authorizer decorates an outgoing request with credentials.
type Authorizer func(req *http.Request) error

// BearerToken authorizes requests with a static bearer token.
func BearerToken(token string) Authorizer {
	return func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// BasicAuth authorizes requests with HTTP basic credentials.
func BasicAuth(user, pass string) Authorizer {
	return func(req *http.Request) error {
		req.SetBasicAuth(user, pass)
		return nil
	}
}

// HTTPClient issues JSON requests against one base URL, retrying throttled and
// failed (5xx) responses with exponential backoff.
type HTTPClient struct {
	baseURL   string
	client    *http.Client
	authorize Authorizer
	logger    *zap.Logger

	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NewHTTPClient constructs a client rooted at baseURL.
func NewHTTPClient(baseURL string, deps Deps, authorize Authorizer) *HTTPClient {
	deps = deps.withDefaults()
	return &HTTPClient{
		baseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:          deps.HTTPClient,
		authorize:       authorize,
		logger:          deps.Logger,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// GetJSON issues a GET and decodes the response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return DecodeJSON(body, out)
}

// PostJSON issues a POST with a JSON payload and decodes the response into out.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := c.Do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	return DecodeJSON(body, out)
}

// Do performs the request and returns the raw body of a 2xx response.
func (c *HTTPClient) Do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var body []byte
	operation := func() error {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authorize != nil {
			if err := c.authorize(req); err != nil {
				return backoff.Permanent(fmt.Errorf("authorize request: %w", err))
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body = data
			return nil
		}

		statusErr := &StatusError{Method: method, URL: c.baseURL + path, Status: resp.StatusCode, Body: truncate(data)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying request", zap.String("method", method), zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, c.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.MaxInterval = c.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.MaxRetries), ctx)
}

// DecodeJSON decodes body into out, stripping a leading XSSI guard line.
// Undecodable bodies yield an error wrapping ErrMalformedResponse.
func DecodeJSON(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if rest, ok := bytes.CutPrefix(trimmed, []byte(xssiPrefix)); ok {
		trimmed = bytes.TrimSpace(rest)
	}
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Tolerate logs and swallows ErrMalformedResponse; any other error is returned as is.
func Tolerate(logger *zap.Logger, op string, err error) error {
	if err == nil || !errors.Is(err, ErrMalformedResponse) {
		return err
	}
	logger.Warn("ignoring malformed response", zap.String("op", op), zap.Error(err))
	return nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
