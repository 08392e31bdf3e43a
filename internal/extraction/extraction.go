// Package extraction turns uploaded files into markdown plus grounded text
// chunks, either through the Landing AI document analysis API or locally for
// HTML.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/docrelay/models"
)

// Extractor extracts a single file stored at path.
type Extractor interface {
	Extract(ctx context.Context, path, filename, contentType string) (*models.Document, error)
}

var (
	ErrNotConfigured  = errors.New("extraction api key not configured")
	ErrRateLimited    = errors.New("extraction rate limit exceeded, please try again later")
	ErrTooLarge       = errors.New("file is too large for processing")
	ErrInvalidRequest = errors.New("extraction service rejected the request")
	ErrUnauthorized   = errors.New("authentication with the extraction service failed, check the api key")
	ErrUpstream       = errors.New("extraction service error, please try again later")
	ErrEmptyDocument  = errors.New("no text could be extracted")
)

// StatusError carries a non-2xx response from the extraction service.
type StatusError struct {
	Code int
	Body string
	Err  error
}

func (e *StatusError) Error() string {
	switch {
	case errors.Is(e.Err, ErrInvalidRequest):
		return fmt.Sprintf("%v: %s", e.Err, e.Body)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("extraction service error (%d): %s", e.Code, e.Body)
	}
}

func (e *StatusError) Unwrap() error { return e.Err }

// Temporary reports whether the request is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func statusError(code int, body string) *StatusError {
	se := &StatusError{Code: code, Body: body}
	switch {
	case code == http.StatusTooManyRequests:
		se.Err = ErrRateLimited
	case code == http.StatusRequestEntityTooLarge:
		se.Err = ErrTooLarge
	case code == http.StatusBadRequest:
		se.Err = ErrInvalidRequest
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		se.Err = ErrUnauthorized
	case code >= 500:
		se.Err = ErrUpstream
	}
	return se
}

// ContentType resolves the MIME type of a file, preferring the declared one,
// then the extension, then content sniffing.
func ContentType(path, filename, declared string) string {
	if ct := strings.TrimSpace(declared); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}

func isPDF(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "pdf")
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}

// Router sends HTML to a local extractor and everything else to Default.
type Router struct {
	HTML    Extractor
	Default Extractor
}

func (r *Router) Extract(ctx context.Context, path, filename, contentType string) (*models.Document, error) {
	ct := ContentType(path, filename, contentType)
	if r.HTML != nil && isHTML(ct) {
		return r.HTML.Extract(ctx, path, filename, ct)
	}
	if r.Default == nil {
		return nil, ErrNotConfigured
	}
	return r.Default.Extract(ctx, path, filename, ct)
}
