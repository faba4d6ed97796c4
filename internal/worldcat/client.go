// Package worldcat fetches full bibliographic records from the OCLC
// WorldCat Metadata API.
package worldcat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/shp-enrich/internal/resilience"
)

const (
	defaultBaseURL  = "https://metadata.api.oclc.org/worldcat"
	defaultTokenURL = "https://oauth.oclc.org/token"
	agentSuffix     = "SH-Enhance-Project"
	acceptMARCXML   = "application/marcxml+xml"
)

// Client defines the WorldCat operations the enrichment run needs.
type Client interface {
	// GetFullBib returns the MARCXML document for an OCLC number. Any
	// non-200 response is returned as a *StatusError.
	GetFullBib(ctx context.Context, ocn int64) ([]byte, error)
}

// StatusError reports a non-success response for one record.
type StatusError struct {
	StatusCode int
	OCN        int64
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("worldcat: ocn %d: status %d: %s", e.OCN, e.StatusCode, e.Body)
}

// Option configures the WorldCat client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithTokenURL sets a custom token endpoint (for testing).
func WithTokenURL(url string) Option {
	return func(c *httpClient) {
		c.tokens.tokenURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
		c.tokens.http = hc
	}
}

// WithRateLimit paces requests to rps per second. rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	tokens    *tokenSource
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	log       *zap.Logger
}

// NewClient creates a WorldCat Metadata API client.
func NewClient(creds Credentials, opts ...Option) Client {
	hc := &http.Client{Timeout: 30 * time.Second}
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: agentSuffix,
		http:      hc,
		tokens: &tokenSource{
			creds:    creds,
			tokenURL: defaultTokenURL,
			http:     hc,
			now:      time.Now,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		retry:   resilience.DefaultRetryConfig(),
		log:     zap.L().With(zap.String("component", "worldcat")),
	}
	if creds.Agent != "" {
		c.userAgent = creds.Agent + "/" + agentSuffix
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("worldcat", "get_full_bib")
	}
	return c
}

func (c *httpClient) GetFullBib(ctx context.Context, ocn int64) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.getFullBib(ctx, ocn)
	})
}

func (c *httpClient) getFullBib(ctx context.Context, ocn int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "worldcat: rate limiter")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/manage/bibs/" + strconv.FormatInt(ocn, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "worldcat: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptMARCXML)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "worldcat: get bib %d", ocn)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "worldcat: read bib %d", ocn)
	}

	c.log.Debug("fetched bib",
		zap.Int64("external_id", ocn),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode, OCN: ocn, Body: truncate(string(body), 512)}
	if resp.StatusCode == http.StatusUnauthorized {
		// An expired token is replaced on the next attempt.
		c.tokens.invalidate()
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return nil, statusErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
