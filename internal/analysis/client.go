package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Sender delivers a request to the inference backend and returns the raw
// response envelope.
type Sender interface {
	Send(ctx context.Context, req *Request) ([]byte, error)
}

// ProxyClientOpts configures a ProxyClient.
type ProxyClientOpts struct {
	Endpoint string
	Token    string
	// Timeout bounds a single call. Zero leaves it to the transport.
	Timeout time.Duration
}

// ProxyClient posts requests to the inference proxy. It makes exactly one
// attempt per call.
type ProxyClient struct {
	httpClient *resty.Client
	endpoint   string
	token      string
}

// NewProxyClient creates a client for the proxy at opts.Endpoint.
func NewProxyClient(opts ProxyClientOpts) *ProxyClient {
	httpClient := resty.New().
		SetDebug(false).
		SetRetryCount(0).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": "myakuari-bot/1.0",
		})
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	return &ProxyClient{
		httpClient: httpClient,
		endpoint:   opts.Endpoint,
		token:      opts.Token,
	}
}

// Send serializes req and posts it with the bearer token. A non-2xx answer
// that carries a body is returned as-is so the parser can surface the
// backend's error envelope.
func (c *ProxyClient) Send(ctx context.Context, req *Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	started := time.Now()
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.token).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.endpoint)
	if err != nil {
		return nil, &TransportError{Message: err.Error(), Err: err}
	}

	data := bytes.TrimSpace(res.Body())

	log.Info().
		Str("model", req.ModelName).
		Int("status", res.StatusCode()).
		Int("requestBytes", len(body)).
		Int("responseBytes", len(data)).
		Dur("took", time.Since(started)).
		Msg("analysis proxy call")

	if len(data) == 0 {
		if res.IsError() {
			return nil, &TransportError{Message: fmt.Sprintf("request failed with status %d", res.StatusCode())}
		}
		return nil, ErrEmptyResponse
	}

	return data, nil
}
