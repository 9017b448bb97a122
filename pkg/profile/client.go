// Package profile looks up professional profiles by email in a
// third-party enrichment service. Results corroborate low-confidence
// matches; a miss or an outage is never fatal to a resolution run.
package profile

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/resolve-cli/internal/resilience"
)

const defaultBaseURL = "https://api.profileview.io/v1"

// Profile is the subset of an enrichment result the matcher consumes.
type Profile struct {
	Email      string  `json:"email"`
	FullName   string  `json:"full_name,omitempty"`
	Company    string  `json:"company,omitempty"`
	Title      string  `json:"title,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Client queries the enrichment service.
type Client interface {
	Lookup(ctx context.Context, email, name string) (*Profile, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit throttles outbound requests.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithRetry sets the retry attempts for transient failures.
func WithRetry(attempts int) Option {
	return func(c *httpClient) {
		c.retry.MaxAttempts = attempts
	}
}

// WithBreaker replaces the default circuit breaker guarding the service.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.Policy
	breaker *resilience.Breaker
}

// NewClient creates an enrichment client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		retry:   resilience.DefaultPolicy(),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{}),
	}
	c.retry.OnRetry = resilience.RetryLogger("profile", "lookup")
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lookup fetches the profile for an email. Returns (nil, nil) when the
// service has no record, so callers can distinguish a miss from an outage.
// The circuit breaker rejects calls outright while the service is down,
// so a dead enrichment service never stalls a resolution run on retries.
func (c *httpClient) Lookup(ctx context.Context, email, name string) (*Profile, error) {
	if email == "" && name == "" {
		return nil, nil
	}

	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*Profile, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Profile, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "profile: rate limit wait")
			}
			return c.lookup(ctx, email, name)
		})
	})
}

func (c *httpClient) lookup(ctx context.Context, email, name string) (*Profile, error) {
	q := url.Values{}
	if email != "" {
		q.Set("email", email)
	}
	if name != "" {
		q.Set("name", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/profiles?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "profile: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "profile: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "profile: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("profile: status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("profile: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "profile: unmarshal response")
	}
	return &p, nil
}
