package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/gossip"
	"github.com/spacemeshos/go-ibltsync/types"
)

// retryableHTTPLogger adapts zap.Logger to retryablehttp.LeveledLogger.
type retryableHTTPLogger struct {
	inner *zap.Logger
}

func (r retryableHTTPLogger) Error(msg string, args ...any) {
	r.inner.Sugar().Errorw(msg, args...)
}

func (r retryableHTTPLogger) Info(msg string, args ...any) {
	r.inner.Sugar().Infow(msg, args...)
}

func (r retryableHTTPLogger) Warn(msg string, args ...any) {
	r.inner.Sugar().Warnw(msg, args...)
}

func (r retryableHTTPLogger) Debug(msg string, args ...any) {
	r.inner.Sugar().Debugw(msg, args...)
}

// ClientOpt configures a Client.
type ClientOpt func(*Client)

// WithClientLogger sets the logger of the client.
func WithClientLogger(logger *zap.Logger) ClientOpt {
	return func(c *Client) {
		c.http.Logger = retryableHTTPLogger{inner: logger}
	}
}

// WithRetries sets the number of retries of requests that failed with a connection
// error or a server error, and the minimal delay between them.
func WithRetries(n int, delay time.Duration) ClientOpt {
	return func(c *Client) {
		c.http.RetryMax = n
		c.http.RetryWaitMin = delay
		c.http.RetryWaitMax = 2 * delay
	}
}

// Client talks to the HTTP api of a node.
type Client struct {
	base string
	http *retryablehttp.Client
}

// NewClient creates a client for the server at addr, either host:port or a URL.
func NewClient(addr string, opts ...ClientOpt) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c := &Client{
		base: strings.TrimSuffix(addr, "/"),
		http: &retryablehttp.Client{
			HTTPClient:   retryablehttp.NewClient().HTTPClient,
			Logger:       retryableHTTPLogger{inner: zap.NewNop()},
			RetryMax:     3,
			RetryWaitMin: 100 * time.Millisecond,
			RetryWaitMax: time.Second,
			Backoff:      retryablehttp.LinearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Peers returns the sessions of the node with its peers.
func (c *Client) Peers(ctx context.Context) ([]gossip.PeerInfo, error) {
	var infos []gossip.PeerInfo
	if err := c.do(ctx, http.MethodGet, "/peers", nil, http.StatusOK, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Get returns the record with the key or types.ErrNotFound.
func (c *Client) Get(ctx context.Context, key types.Key) (types.Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodGet, "/records/"+key.String(), nil, http.StatusOK, &rec); err != nil {
		return types.Record{}, err
	}
	return rec.toRecord()
}

// Publish stores the value on the node and returns the created record.
func (c *Client) Publish(ctx context.Context, value []byte) (types.Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodPost, "/records", value, http.StatusCreated, &rec); err != nil {
		return types.Record{}, err
	}
	return rec.toRecord()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, expect int, v any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != expect {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		text := strings.TrimSpace(string(msg))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", types.ErrNotFound, text)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", gossip.ErrValidationRejected, text)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, text)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (r Record) toRecord() (types.Record, error) {
	key, err := hex.DecodeString(r.Key)
	if err != nil {
		return types.Record{}, fmt.Errorf("bad record key %q: %w", r.Key, err)
	}
	return types.Record{Key: key, Timestamp: r.Timestamp, Value: r.Value}, nil
}
