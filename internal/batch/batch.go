// Package batch keeps processed document batches around for a fixed
// retention window so callers can fetch them after submission.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/docrelay/models"
)

// DefaultRetention is how long a stored batch stays retrievable.
const DefaultRetention = time.Hour

// ErrNotFound is returned for unknown or expired batch ids.
var ErrNotFound = errors.New("batch not found")

// Status of a stored batch. Batches are only stored once every file is done.
type Status string

const StatusCompleted Status = "completed"

// FileResult is the outcome of processing a single uploaded file.
type FileResult struct {
	Filename       string          `json:"filename"`
	DocumentType   string          `json:"document_type,omitempty"`
	Success        bool            `json:"success"`
	Data           json.RawMessage `json:"data,omitempty"`
	Markdown       string          `json:"markdown,omitempty"`
	Chunks         []models.Chunk  `json:"chunks,omitempty"`
	Answer         *models.Answer  `json:"answer,omitempty"`
	Error          string          `json:"error,omitempty"`
	ProcessingTime float64         `json:"processing_time"`
}

// Result is a stored batch.
type Result struct {
	ID       string       `json:"batch_id"`
	Results  []FileResult `json:"results"`
	StoredAt time.Time    `json:"stored_at"`
	Status   Status       `json:"status"`
}

// Counts returns how many files succeeded and failed.
func (r *Result) Counts() (successful, failed int) {
	for _, fr := range r.Results {
		if fr.Success {
			successful++
		} else {
			failed++
		}
	}
	return successful, failed
}

// File looks up a result by filename.
func (r *Result) File(name string) (FileResult, bool) {
	for _, fr := range r.Results {
		if fr.Filename == name {
			return fr, true
		}
	}
	return FileResult{}, false
}

// Store holds batches. Implementations must be safe for concurrent use.
type Store interface {
	// Put records res under res.ID, generating an id when it is empty, and
	// returns the id used. StoredAt and Status are set by the store.
	Put(ctx context.Context, res *Result) (string, error)
	// Get returns ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (*Result, error)
	// Delete reports whether the id existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Sweep removes entries older than the retention window as of now.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

// NewID returns a short random token.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func expired(storedAt, now time.Time, retention time.Duration) bool {
	return now.Sub(storedAt) > retention
}

// clone deep-copies res so callers never share backing arrays with the store.
func clone(res *Result) *Result {
	out := *res
	if res.Results == nil {
		return &out
	}
	out.Results = make([]FileResult, len(res.Results))
	for i, fr := range res.Results {
		if fr.Data != nil {
			fr.Data = append(json.RawMessage(nil), fr.Data...)
		}
		if fr.Chunks != nil {
			chunks := make([]models.Chunk, len(fr.Chunks))
			for j, c := range fr.Chunks {
				if c.Grounding != nil {
					c.Grounding = append([]models.Grounding(nil), c.Grounding...)
				}
				chunks[j] = c
			}
			fr.Chunks = chunks
		}
		if fr.Answer != nil {
			a := *fr.Answer
			a.SupportingChunks = append([]string(nil), a.SupportingChunks...)
			fr.Answer = &a
		}
		out.Results[i] = fr
	}
	return &out
}
