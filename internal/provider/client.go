package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appErrors "github.com/charlesng35/idbridge/pkg/errors"
	"github.com/charlesng35/idbridge/pkg/metrics"
)

// Session is the provider's view of one verification attempt. Only the fields
// the broker needs are decoded; everything else the provider returns stays on
// its side of the fence.
type Session struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Client abstracts the external identity-verification provider so services and
// tests can swap implementations.
type Client interface {
	// CreateSession starts a new verification session and returns the hosted
	// document-capture URL along with the provider-assigned session id.
	CreateSession(ctx context.Context, userReference, verificationType string) (*Session, error)
	// GetSession fetches the provider's current view of a session, used for
	// status resync when webhook delivery lagged or was lost.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

const defaultTimeout = 10 * time.Second

// Config holds connection settings for the HTTP client.
type Config struct {
	APIKey    string
	BaseURL   string
	ReturnURL string
	Timeout   time.Duration
}

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	apiKey    string
	baseURL   string
	returnURL string
	client    *http.Client
}

// NewHTTPClient constructs the provider client. The API key is mandatory;
// startup validation rejects configurations without one before this point.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("provider: api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		apiKey:    apiKey,
		baseURL:   baseURL,
		returnURL: strings.TrimSpace(cfg.ReturnURL),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// CreateSession implements Client.
func (c *HTTPClient) CreateSession(ctx context.Context, userReference, verificationType string) (*Session, error) {
	form := url.Values{}
	form.Set("type", verificationType)
	if c.returnURL != "" {
		form.Set("return_url", c.returnURL)
	}
	if userReference != "" {
		form.Set("metadata[user_reference]", userReference)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/identity/verification_sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, appErrors.NewUpstream(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	session, err := c.do(req)
	c.observe("create_session", err)
	return session, err
}

// GetSession implements Client.
func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/identity/verification_sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, appErrors.NewUpstream(err)
	}

	session, err := c.do(req)
	c.observe("get_session", err)
	return session, err
}

func (c *HTTPClient) do(req *http.Request) (*Session, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, appErrors.NewUpstream(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.NewUpstream(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, appErrors.NewUpstream(fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(body, 256)))
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, appErrors.NewUpstream(fmt.Errorf("decode provider response: %w", err))
	}

	if session.ID == "" {
		return nil, appErrors.NewUpstream(fmt.Errorf("provider response missing session id"))
	}

	return &session, nil
}

func (c *HTTPClient) observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.ProviderRequests.WithLabelValues(operation, result).Inc()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
