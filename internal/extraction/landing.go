package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/mohammad-safakhou/docrelay/models"
	"go.uber.org/zap"
)

const DefaultLandingEndpoint = "https://api.va.landing.ai/v1/tools/agentic-document-analysis"

type LandingOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Retries  int
	Backoff  time.Duration
}

// LandingClient calls the Landing AI agentic document analysis endpoint.
type LandingClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	retries  int
	backoff  time.Duration
	logger   *zap.Logger
}

func NewLandingClient(opts LandingOptions, logger *zap.Logger) *LandingClient {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultLandingEndpoint
	}
	if opts.Timeout == 0 {
		opts.Timeout = 3 * time.Minute
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff == 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LandingClient{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		client:   &http.Client{Timeout: opts.Timeout},
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		logger:   logger,
	}
}

type landingResponse struct {
	Data struct {
		Markdown string         `json:"markdown"`
		Chunks   []models.Chunk `json:"chunks"`
	} `json:"data"`
	Errors          []json.RawMessage `json:"errors"`
	ExtractionError *string           `json:"extraction_error"`
}

func (c *LandingClient) Extract(ctx context.Context, path, filename, contentType string) (*models.Document, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	body, formType, err := c.encode(path, filename, contentType)
	if err != nil {
		return nil, err
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		start := time.Now()
		doc, err := c.post(ctx, body, formType, filename, contentType)
		if err == nil {
			c.logger.Debug("landing extraction done",
				zap.String("file", filename),
				zap.Int("chunks", len(doc.Chunks)),
				zap.Duration("took", time.Since(start)))
			return doc, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("landing extraction attempt failed",
			zap.String("file", filename), zap.Int("attempt", attempt+1), zap.Error(err))

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// encode builds the multipart body once so retries can resend it.
func (c *LandingClient) encode(path, filename, contentType string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	field := "image"
	if isPDF(contentType) {
		field = "pdf"
	}
	if filename == "" {
		filename = filepath.Base(path)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (c *LandingClient) post(ctx context.Context, body []byte, formType, filename, contentType string) (*models.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, string(b))
	}

	var out landingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	if out.ExtractionError != nil && *out.ExtractionError != "" && out.Data.Markdown == "" {
		return nil, fmt.Errorf("extraction failed: %s", *out.ExtractionError)
	}
	return &models.Document{
		Markdown: out.Data.Markdown,
		Chunks:   out.Data.Chunks,
		Metadata: map[string]interface{}{
			"filename":     filename,
			"content_type": contentType,
			"page_count":   pageCount(out.Data.Chunks),
			"errors":       len(out.Errors),
		},
	}, nil
}

func pageCount(chunks []models.Chunk) int {
	pages := 0
	for _, c := range chunks {
		for _, p := range c.Pages() {
			if p+1 > pages {
				pages = p + 1
			}
		}
	}
	return pages
}
