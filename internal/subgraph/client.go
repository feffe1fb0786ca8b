package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// ClientConfig tunes the GraphQL HTTP client.
type ClientConfig struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Client executes GraphQL queries against a subgraph endpoint. Transport
// failures and 5xx responses are retried with exponential backoff; GraphQL
// errors in a 200 response are not, they indicate a bad query or an
// unsupported schema.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewClient builds a subgraph client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("subgraph endpoint is empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     logger,
	}, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Query posts the query and unmarshals the response data into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := c.post(ctx, body)
		if err != nil {
			lastErr = err
			c.logger.Warn("subgraph request failed",
				zap.String("endpoint", c.endpoint),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		if len(resp.Errors) > 0 {
			return fmt.Errorf("subgraph query: %s", resp.Errors[0].Message)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("decode subgraph response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("subgraph %s after %d attempts: %v: %w", c.endpoint, c.maxRetries+1, lastErr, model.ErrUpstreamUnavailable)
}

func (c *Client) post(ctx context.Context, body []byte) (*graphQLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var decoded graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return &decoded, nil
}
