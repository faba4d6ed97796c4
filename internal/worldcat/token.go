package worldcat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

const scopeMetadata = "WorldCatMetadataAPI"

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 60 * time.Second

// Credentials authenticate against the OCLC token service.
type Credentials struct {
	Key           string `json:"key" mapstructure:"key"`
	Secret        string `json:"secret" mapstructure:"secret"`
	PrincipalID   string `json:"principal_id" mapstructure:"principal_id"`
	PrincipalIDNS string `json:"principal_idns" mapstructure:"principal_idns"`
	Agent         string `json:"agent" mapstructure:"agent"`
}

// Validate checks that the client-credentials pair is present.
func (c Credentials) Validate() error {
	if c.Key == "" || c.Secret == "" {
		return eris.New("worldcat: key and secret are required")
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type tokenSource struct {
	creds    Credentials
	tokenURL string
	http     *http.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Token returns a cached access token or requests a new one.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiresAt.Add(-tokenRefreshMargin)) {
		return ts.token, nil
	}

	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {scopeMetadata},
	}
	if ts.creds.PrincipalID != "" {
		form.Set("principalID", ts.creds.PrincipalID)
		form.Set("principalIDNS", ts.creds.PrincipalIDNS)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "worldcat: create token request")
	}
	req.SetBasicAuth(ts.creds.Key, ts.creds.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := ts.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "worldcat: token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "worldcat: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("worldcat: token status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", eris.Wrap(err, "worldcat: decode token response")
	}
	if tr.AccessToken == "" {
		return "", eris.New("worldcat: token response has no access_token")
	}

	ts.token = tr.AccessToken
	ts.expiresAt = ts.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return ts.token, nil
}

// invalidate drops the cached token so the next call fetches a new one.
func (ts *tokenSource) invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}
