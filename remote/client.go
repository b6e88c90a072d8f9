package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Observer receives the outcome of every collaborator call
type Observer func(op string, statusCode int, elapsed time.Duration)

// Options contains the configuration of a collaborator Client
type Options struct {
	BaseURL    string
	Logger     *zap.Logger
	HTTPClient *http.Client

	// ReadRetries bounds the extra attempts of GET calls. Mutating calls are never retried.
	ReadRetries int
	RetryDelay  time.Duration
	Timeout     time.Duration

	Observe Observer
}

// Client issues JSON calls to one collaborator, forwarding the caller's bearer token
type Client struct {
	Options
}

// Call describes one request to the collaborator
type Call struct {
	// Op names the operation in logs, metrics and errors
	Op     string
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
	Header http.Header
	// Fallback is surfaced when the collaborator's error envelope carries no message
	Fallback string
}

// New returns a Client for the collaborator at option.BaseURL
func New(option Options) (*Client, error) {
	if option.BaseURL == "" {
		return nil, fmt.Errorf("empty BaseURL is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Timeout == 0 {
		option.Timeout = 30 * time.Second
	}
	if option.RetryDelay == 0 {
		option.RetryDelay = 200 * time.Millisecond
	}
	if option.ReadRetries < 0 {
		option.ReadRetries = 0
	}
	if option.HTTPClient == nil {
		option.HTTPClient = &http.Client{
			Timeout: option.Timeout,
		}
	}
	return &Client{
		Options: option,
	}, nil
}

// URL resolves path against the collaborator's base URL
func (c *Client) URL(path string, query url.Values) string {
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Do performs call and decodes a 2xx body into out (when out is non-nil).
// Non-2xx answers become *AdapterError.
func (c *Client) Do(ctx context.Context, call Call, out interface{}) error {
	body, err := c.Raw(ctx, call)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.Logger.Error("Cannot decode collaborator response",
			zap.String("Op", call.Op),
			zap.Error(err),
		)
		return &AdapterError{
			Op:      call.Op,
			Message: fallbackMessage(call),
			Err:     extErrors.Wrap(err, "Malformed response"),
		}
	}
	return nil
}

// Raw performs call and returns the 2xx body as is
func (c *Client) Raw(ctx context.Context, call Call) ([]byte, error) {
	if call.Method == "" {
		call.Method = http.MethodGet
	}
	var payload []byte
	if call.Body != nil {
		b, err := json.Marshal(call.Body)
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot encode request body")
		}
		payload = b
	}

	attempts := 1
	if call.Method == http.MethodGet {
		attempts += c.ReadRetries
	}

	logger := c.Logger.With(
		zap.String("Op", call.Op),
		zap.String("Method", call.Method),
		zap.String("Path", call.Path),
	)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logger.Info("Retrying collaborator call",
				zap.Int("Attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, &AdapterError{Op: call.Op, Message: fallbackMessage(call), Err: ctx.Err()}
			case <-time.After(c.RetryDelay * time.Duration(attempt)):
			}
		}

		body, status, err := c.roundTrip(ctx, call, payload)
		if err != nil {
			lastErr = &AdapterError{Op: call.Op, Message: fallbackMessage(call), Err: err}
			continue
		}

		if status >= 200 && status < 300 {
			return body, nil
		}

		aErr := &AdapterError{
			Op:         call.Op,
			StatusCode: status,
			Message:    ExtractMessage(body, fallbackMessage(call)),
			Body:       body,
		}
		// 4xx will not get better by asking again
		if status < 500 {
			return nil, aErr
		}
		lastErr = aErr
	}

	logger.Error("Collaborator call failed",
		zap.Int("Attempts", attempts),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, call Call, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, c.URL(call.Path, call.Query), reader)
	if err != nil {
		return nil, 0, extErrors.Wrap(err, "Cannot create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range call.Header {
		req.Header[k] = v
	}
	if token := Bearer(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.observe(call.Op, 0, start)
		return nil, 0, extErrors.Wrap(err, "Request failed")
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	c.observe(call.Op, resp.StatusCode, start)
	if err != nil {
		return nil, 0, extErrors.Wrap(err, "Cannot read response body")
	}
	return body, resp.StatusCode, nil
}

func (c *Client) observe(op string, status int, start time.Time) {
	if c.Observe != nil {
		c.Observe(op, status, time.Since(start))
	}
}

func fallbackMessage(call Call) string {
	if call.Fallback != "" {
		return call.Fallback
	}
	return DefaultFallback
}
