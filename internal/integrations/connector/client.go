// Package connector delivers outbound activities to the channel's connector
// service (the Bot Framework REST API).
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
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"travel-time-bot/internal/domain"
)

const (
	DefaultTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	DefaultScope    = "https://api.botframework.com/.default"
)

// ErrUntrustedServiceURL is returned when an authenticated send targets a
// service url no verified inbound activity has vouched for.
var ErrUntrustedServiceURL = errors.New("connector: untrusted service url")

// HTTPStatusError captures non-2xx connector responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("connector: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client posts activities to <serviceUrl>/v3/conversations/<id>/activities.
// Without an app id it runs in emulator mode and sends no credentials.
type Client struct {
	appID       string
	appPassword string
	tokenURL    string
	httpClient  *http.Client
	tokens      oauth2.TokenSource
	limiter     *rate.Limiter

	mu      sync.RWMutex
	trusted map[string]struct{}
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenURL overrides the Bot Framework token endpoint.
func WithTokenURL(u string) Option {
	return func(c *Client) {
		c.tokenURL = strings.TrimSpace(u)
	}
}

// WithTokenSource replaces the client-credentials flow.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithSendRate caps outbound activities at r per second.
func WithSendRate(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithTrustedServiceURLs seeds the service urls that may receive the bot's
// credentials before any inbound activity from them has been verified.
func WithTrustedServiceURLs(urls ...string) Option {
	return func(c *Client) {
		for _, u := range urls {
			c.TrustServiceURL(u)
		}
	}
}

func NewClient(appID, appPassword string, opts ...Option) (*Client, error) {
	appID = strings.TrimSpace(appID)
	if appID != "" && appPassword == "" {
		return nil, errors.New("connector: app password must not be empty when an app id is set")
	}
	c := &Client{
		appID:       appID,
		appPassword: appPassword,
		tokenURL:    DefaultTokenURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		trusted:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil && c.appID != "" {
		cc := &clientcredentials.Config{
			ClientID:     c.appID,
			ClientSecret: c.appPassword,
			TokenURL:     c.tokenURL,
			Scopes:       []string{DefaultScope},
		}
		// the token source caches until expiry; bind its refreshes to our http client
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.resolvedHTTPClient())
		c.tokens = cc.TokenSource(ctx)
	}
	return c, nil
}

// Emulator reports whether requests go out unauthenticated.
func (c *Client) Emulator() bool {
	return c.tokens == nil
}

// TrustServiceURL allows authenticated sends to u. The verifier calls it for
// every inbound activity whose token names u.
func (c *Client) TrustServiceURL(u string) {
	key := serviceURLKey(u)
	if key == "" {
		return
	}
	c.mu.Lock()
	c.trusted[key] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) isTrusted(u string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.trusted[serviceURLKey(u)]
	return ok
}

// serviceURLKey normalizes a service url for comparison.
func serviceURLKey(u string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(u), "/"))
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func activitiesURL(serviceURL, conversationID string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(serviceURL), "/")
	if base == "" {
		return "", errors.New("connector: service url must not be empty")
	}
	if conversationID == "" {
		return "", errors.New("connector: conversation id must not be empty")
	}
	return base + "/v3/conversations/" + url.PathEscape(conversationID) + "/activities", nil
}

// Send delivers one activity into its conversation.
func (c *Client) Send(ctx context.Context, activity domain.Activity) error {
	u, err := activitiesURL(activity.ServiceURL, activity.Conversation.ID)
	if err != nil {
		return err
	}
	if c.tokens != nil && !c.isTrusted(activity.ServiceURL) {
		return fmt.Errorf("%w: %s", ErrUntrustedServiceURL, activity.ServiceURL)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("connector: wait for send slot: %w", err)
		}
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("connector: marshal activity: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("connector: fetch token: %w", err)
		}
		tok.SetAuthHeader(req)
	}
	if err := c.do(req, u); err != nil {
		return fmt.Errorf("connector: send %s: %w", activity.Type, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, u string) error {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}
