package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeminiAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"answer\":\"unfit\",\"reasoning\":\"UNFIT ticked\",\"supporting_chunks\":[\"c9\"]}"}]}}]}`)
	}))
	defer srv.Close()

	g, err := NewGeminiClient(context.Background(), Options{
		APIKey:  "g-key",
		BaseURL: srv.URL,
		Model:   "gemini-test",
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)

	ans, err := g.Analyze(context.Background(), "Is the worker fit?", []byte(`[{"chunk_id":"c9","text":"UNFIT [x]"}]`))
	require.NoError(t, err)
	require.Equal(t, "unfit", ans.Answer)
	require.Equal(t, []string{"c9"}, ans.SupportingChunks)
}

func TestGeminiRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), Options{}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}
