package subscriptions

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packforge/distro/pkg/apperr"
)

func TestIsSubscribedToAny_True(t *testing.T) {
	var gotAuth string
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"subscribed": true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	ok, err := client.IsSubscribedToAny(t.Context(), "user-1", []string{"tier-gold", "tier-platinum"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Contains(t, gotQuery, "userId=user-1")
	require.Contains(t, gotQuery, "channel=tier-gold")
	require.Contains(t, gotQuery, "channel=tier-platinum")
}

func TestIsSubscribedToAny_False(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"subscribed": false}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ok, err := client.IsSubscribedToAny(t.Context(), "user-1", []string{"tier-gold"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsSubscribedToAny_NoChannelsShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, _ = w.Write([]byte(`{"subscribed": true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ok, err := client.IsSubscribedToAny(t.Context(), "user-1", nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, called)
}

func TestIsSubscribedToAny_UpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.IsSubscribedToAny(t.Context(), "user-1", []string{"tier-gold"})
	require.Error(t, err)
	require.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestIsSubscribedToAny_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.IsSubscribedToAny(t.Context(), "user-1", []string{"tier-gold"})
	require.Error(t, err)
}
