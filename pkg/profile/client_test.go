package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resolve-cli/internal/resilience"
)

func TestLookupSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles", r.URL.Path)
		assert.Equal(t, "jane@acme.com", r.URL.Query().Get("email"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"jane@acme.com","full_name":"Jane Doe","company":"Acme Corp","title":"VP Sales","confidence":0.92}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	p, err := c.Lookup(context.Background(), "jane@acme.com", "Jane Doe")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Acme Corp", p.Company)
	assert.Equal(t, "VP Sales", p.Title)
	assert.InDelta(t, 0.92, p.Confidence, 1e-9)
}

func TestLookupNotFoundReturnsNil(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	p, err := c.Lookup(context.Background(), "nobody@acme.com", "")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLookupEmptyInputsSkipRequest(t *testing.T) {
	t.Parallel()

	c := NewClient("test-key", WithBaseURL("http://127.0.0.1:1"))
	p, err := c.Lookup(context.Background(), "", "")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLookupRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"email":"jane@acme.com","confidence":0.8}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetry(3))
	p, err := c.Lookup(context.Background(), "jane@acme.com", "")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookupBreakerShortCircuitsOutage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithRetry(1),
		WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: 2,
			ResetTimeout:     time.Hour,
		})),
	)

	_, err := c.Lookup(context.Background(), "jane@acme.com", "")
	require.Error(t, err)
	_, err = c.Lookup(context.Background(), "jane@acme.com", "")
	require.Error(t, err)

	// Circuit is open now: no request reaches the server.
	_, err = c.Lookup(context.Background(), "jane@acme.com", "")
	assert.ErrorIs(t, err, resilience.ErrBreakerOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookupClientErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL), WithRetry(3))
	_, err := c.Lookup(context.Background(), "jane@acme.com", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
