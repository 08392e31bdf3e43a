package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/docrelay/internal/metrics"
	"go.uber.org/zap"
)

const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// ErrNoEndpoint is returned when a job carries no callback endpoint.
var ErrNoEndpoint = errors.New("callback endpoint not set")

// Payload is the body posted to the callback endpoint.
type Payload struct {
	DocumentID      string `json:"documentId"`
	Status          string `json:"status"`
	ExtractedData   any    `json:"extractedData,omitempty"`
	ProcessingError string `json:"processingError,omitempty"`
}

// Processed builds the success payload.
func Processed(documentID string, data any) Payload {
	return Payload{DocumentID: documentID, Status: StatusProcessed, ExtractedData: data}
}

// Failed builds the failure payload.
func Failed(documentID string, err error) Payload {
	return Payload{DocumentID: documentID, Status: StatusFailed, ProcessingError: err.Error()}
}

type NotifierOptions struct {
	APIKey  string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

type Notifier struct {
	apiKey  string
	client  *http.Client
	retries int
	backoff time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewNotifier(opts NotifierOptions, logger *zap.Logger, m *metrics.Metrics) *Notifier {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff == 0 {
		opts.Backoff = 300 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  logger,
		metrics: m,
	}
}

// Notify posts p to endpoint. Client errors (4xx other than 429) are not retried.
func (n *Notifier) Notify(ctx context.Context, endpoint string, p Payload) error {
	err := n.notify(ctx, endpoint, p)
	n.metrics.ObserveCallback(p.Status, err == nil)
	if err != nil {
		n.logger.Error("callback failed", zap.String("document_id", p.DocumentID), zap.String("status", p.Status), zap.Error(err))
		return err
	}
	n.logger.Info("callback delivered", zap.String("document_id", p.DocumentID), zap.String("status", p.Status))
	return nil
}

func (n *Notifier) notify(ctx context.Context, endpoint string, p Payload) error {
	if endpoint == "" {
		return ErrNoEndpoint
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}

	var lastErr error
	tries := n.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		retry, err := n.post(ctx, endpoint, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
		if attempt < tries-1 {
			select {
			case <-time.After(n.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, endpoint string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, fmt.Errorf("callback endpoint returned %s: %s", resp.Status, bytes.TrimSpace(b))
}
