package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/docrelay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFetchKeepsExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	d := NewDownloader(time.Second, 0, t.TempDir(), nil)
	path, err := d.Fetch(context.Background(), srv.URL+"/signed?token=x", "cert.PDF")
	require.NoError(t, err)
	require.Equal(t, ".PDF", filepath.Ext(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 body", string(b))
}

func TestFetchRejectsBadStatusAndOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(time.Second, 16, dir, nil)

	_, err := d.Fetch(context.Background(), srv.URL+"/missing", "a.pdf")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")

	_, err = d.Fetch(context.Background(), srv.URL+"/big", "a.pdf")
	require.ErrorIs(t, err, ErrTooLarge)

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestNotifySendsPayloadWithBearer(t *testing.T) {
	var got Payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := metrics.New()
	n := NewNotifier(NotifierOptions{APIKey: "cb-key"}, nil, m)
	err := n.Notify(context.Background(), srv.URL, Processed("doc-1", map[string]string{"k": "v"}))
	require.NoError(t, err)
	require.Equal(t, "Bearer cb-key", auth)
	require.Equal(t, "doc-1", got.DocumentID)
	require.Equal(t, StatusProcessed, got.Status)
	require.Equal(t, map[string]any{"k": "v"}, got.ExtractedData)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Callbacks.WithLabelValues("processed", "success")))
}

func TestNotifyFailurePayloadOmitsData(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
	}))
	defer srv.Close()

	n := NewNotifier(NotifierOptions{}, nil, nil)
	require.NoError(t, n.Notify(context.Background(), srv.URL, Failed("doc-2", errors.New("download failed"))))
	require.Equal(t, "failed", raw["status"])
	require.Equal(t, "download failed", raw["processingError"])
	require.NotContains(t, raw, "extractedData")
}

func TestNotifyRetries(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		wantErr  bool
		attempts int32
	}{
		{"server error retried", http.StatusBadGateway, true, 3},
		{"rate limit retried", http.StatusTooManyRequests, true, 3},
		{"client error not retried", http.StatusUnauthorized, true, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			n := NewNotifier(NotifierOptions{Retries: 2, Backoff: time.Millisecond}, nil, nil)
			err := n.Notify(context.Background(), srv.URL, Processed("d", nil))
			require.Equal(t, tc.wantErr, err != nil)
			require.Equal(t, tc.attempts, atomic.LoadInt32(&calls))
		})
	}
}

func TestNotifyRecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(NotifierOptions{Retries: 2, Backoff: time.Millisecond}, nil, nil)
	require.NoError(t, n.Notify(context.Background(), srv.URL, Processed("d", nil)))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestNotifyWithoutEndpoint(t *testing.T) {
	n := NewNotifier(NotifierOptions{}, nil, nil)
	require.ErrorIs(t, n.Notify(context.Background(), "", Processed("d", nil)), ErrNoEndpoint)
}
