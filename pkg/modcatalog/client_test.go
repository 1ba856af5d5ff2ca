package modcatalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveBatch_OKAndMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/projects/p1/files/f1" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"project": ProjectInfo{ID: "p1", Name: "Test Pack", Slug: "test-pack"},
				"file":    FileInfo{ID: "f1", Filename: "pack.zip", ByteLength: 1024, DownloadURL: "http://example.invalid/pack.zip"},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", Config{RequestsPerSecond: 100})
	results, err := client.ResolveBatch(context.Background(), []Pair{
		{ProjectID: "p1", FileID: "f1"},
		{ProjectID: "p1", FileID: "ghost"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, ResolveOK, results[0].Status)
	require.Equal(t, "pack.zip", results[0].FileInfo.Filename)
	require.Equal(t, ResolveMissing, results[1].Status)
}

func TestResolveBatch_RetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"project": ProjectInfo{ID: "p1"},
			"file":    FileInfo{ID: "f1", Filename: "pack.zip"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", Config{RequestsPerSecond: 100, MaxRetries: 4})
	results, err := client.ResolveBatch(context.Background(), []Pair{{ProjectID: "p1", FileID: "f1"}})
	require.NoError(t, err)
	require.Equal(t, ResolveOK, results[0].Status)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestDownload_StreamsBody(t *testing.T) {
	payload := []byte("deadbeef-modpack-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", Config{RequestsPerSecond: 100})
	rc, err := client.Download(context.Background(), srv.URL+"/files/pack.zip")
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, len(payload))
	n, err := rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 8.0, cfg.RequestsPerSecond)
	require.Equal(t, 30*time.Second, cfg.MetadataTimeout)
	require.Equal(t, 2*time.Minute, cfg.DownloadTimeout)
	require.Equal(t, 4, cfg.MaxRetries)
}
