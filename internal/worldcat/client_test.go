package worldcat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testBib = `<record xmlns="http://www.loc.gov/MARC21/slim"><leader>00000cam a2200000 a 4500</leader></record>`

var testCreds = Credentials{
	Key:           "key",
	Secret:        "secret",
	PrincipalID:   "pid",
	PrincipalIDNS: "urn:oclc:wms:da",
	Agent:         "BPL",
}

type fakeOCLC struct {
	tokenCalls atomic.Int32
	bibCalls   atomic.Int32
	// bibStatus returns the status for the nth (1-based) bib request.
	bibStatus func(n int32) int
}

func (f *fakeOCLC) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "WorldCatMetadataAPI", r.PostForm.Get("scope"))
		assert.Equal(t, "pid", r.PostForm.Get("principalID"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tk-1", TokenType: "bearer", ExpiresIn: 1199})
	})
	mux.HandleFunc("/worldcat/manage/bibs/", func(w http.ResponseWriter, r *http.Request) {
		n := f.bibCalls.Add(1)
		assert.Equal(t, "Bearer tk-1", r.Header.Get("Authorization"))
		assert.Equal(t, acceptMARCXML, r.Header.Get("Accept"))
		assert.Equal(t, "BPL/SH-Enhance-Project", r.Header.Get("User-Agent"))

		status := http.StatusOK
		if f.bibStatus != nil {
			status = f.bibStatus(n)
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(testBib))
			return
		}
		_, _ = w.Write([]byte(`{"title":"error"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, opts ...Option) Client {
	base := []Option{
		WithBaseURL(srv.URL + "/worldcat"),
		WithTokenURL(srv.URL + "/token"),
		WithHTTPClient(srv.Client()),
		WithRateLimit(0),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}),
	}
	return NewClient(testCreds, append(base, opts...)...)
}

func TestGetFullBib_Success(t *testing.T) {
	fake := &fakeOCLC{}
	c := newTestClient(fake.server(t))

	body, err := c.GetFullBib(context.Background(), 1234)
	require.NoError(t, err)
	assert.Equal(t, testBib, string(body))

	_, err = c.GetFullBib(context.Background(), 5678)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load(), "token is cached between requests")
	assert.Equal(t, int32(2), fake.bibCalls.Load())
}

func TestGetFullBib_NotFoundIsPermanent(t *testing.T) {
	fake := &fakeOCLC{bibStatus: func(int32) int { return http.StatusNotFound }}
	c := newTestClient(fake.server(t))

	_, err := c.GetFullBib(context.Background(), 99)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, int64(99), se.OCN)
	assert.Equal(t, resilience.ClassPermanent, resilience.Classify(err))
	assert.Equal(t, int32(1), fake.bibCalls.Load())
}

func TestGetFullBib_RetriesTransient(t *testing.T) {
	fake := &fakeOCLC{bibStatus: func(n int32) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}}
	c := newTestClient(fake.server(t))

	body, err := c.GetFullBib(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, testBib, string(body))
	assert.Equal(t, int32(3), fake.bibCalls.Load())
}

func TestGetFullBib_TransientExhausted(t *testing.T) {
	fake := &fakeOCLC{bibStatus: func(int32) int { return http.StatusTooManyRequests }}
	c := newTestClient(fake.server(t))

	_, err := c.GetFullBib(context.Background(), 1)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, resilience.ClassTransient, resilience.Classify(err))
	assert.Equal(t, int32(3), fake.bibCalls.Load())
}

func TestGetFullBib_UnauthorizedRefreshesToken(t *testing.T) {
	fake := &fakeOCLC{bibStatus: func(n int32) int {
		if n == 1 {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}}
	c := newTestClient(fake.server(t))

	_, err := c.GetFullBib(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestGetFullBib_TokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid client"))
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(srv)

	_, err := c.GetFullBib(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token status 403")
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	fake := &fakeOCLC{}
	srv := fake.server(t)

	now := time.Date(2022, 8, 3, 10, 0, 0, 0, time.UTC)
	ts := &tokenSource{
		creds:    testCreds,
		tokenURL: srv.URL + "/token",
		http:     srv.Client(),
		now:      func() time.Time { return now },
	}

	_, err := ts.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(1199*time.Second - tokenRefreshMargin - time.Second)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())

	now = now.Add(2 * time.Second)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestCredentials_Validate(t *testing.T) {
	assert.NoError(t, testCreds.Validate())
	assert.Error(t, Credentials{Key: "k"}.Validate())
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{StatusCode: 404, OCN: 12, Body: "missing"}
	assert.Equal(t, "worldcat: ocn 12: status 404: missing", err.Error())
}
