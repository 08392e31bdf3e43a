package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/docrelay/internal/batch"
	"github.com/mohammad-safakhou/docrelay/internal/metrics"
	"github.com/mohammad-safakhou/docrelay/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	mu      sync.Mutex
	active  int32
	maxSeen int32
	delay   time.Duration
	fail    map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, _, filename, _ string) (*models.Document, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	f.mu.Lock()
	if n > f.maxSeen {
		f.maxSeen = n
	}
	err := f.fail[filename]
	f.mu.Unlock()
	time.Sleep(f.delay)
	if err != nil {
		return nil, err
	}
	return &models.Document{
		Markdown: "**Initials & Surname**: " + filename,
		Chunks:   []models.Chunk{{ID: filename + "-0", Text: "content of " + filename}},
		Metadata: map[string]interface{}{"filename": filename},
	}, nil
}

type fakeAnalyzer struct {
	evidence []byte
	err      error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, question string, evidence []byte) (*models.Answer, error) {
	f.evidence = evidence
	if f.err != nil {
		return nil, f.err
	}
	return &models.Answer{Answer: "yes: " + question, Reasoning: "r", SupportingChunks: []string{"a.pdf-0"}}, nil
}

func inputs(n int) []Input {
	out := make([]Input, n)
	for i := range out {
		out[i] = Input{Filename: fmt.Sprintf("f%02d.pdf", i), DocumentType: models.DocumentTypeGeneric}
	}
	return out
}

func TestProcessBatchKeepsOrderAndBoundsWorkers(t *testing.T) {
	ex := &fakeExtractor{delay: 10 * time.Millisecond}
	p := NewProcessor(ex, nil, Options{MaxWorkers: 3, BatchSize: 20}, nil, nil)

	res, err := p.ProcessBatch(context.Background(), inputs(12))
	require.NoError(t, err)
	require.Len(t, res, 12)
	for i, r := range res {
		require.Equal(t, fmt.Sprintf("f%02d.pdf", i), r.Filename)
		require.True(t, r.Success)
	}
	require.LessOrEqual(t, ex.maxSeen, int32(3))
}

func TestProcessBatchLimits(t *testing.T) {
	p := NewProcessor(&fakeExtractor{}, nil, Options{BatchSize: 2}, nil, nil)
	_, err := p.ProcessBatch(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
	_, err = p.ProcessBatch(context.Background(), inputs(3))
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestProcessFileFailuresAreReported(t *testing.T) {
	m := metrics.New()
	ex := &fakeExtractor{fail: map[string]error{"bad.pdf": errors.New("extraction rate limit exceeded")}}
	p := NewProcessor(ex, nil, Options{}, nil, m)

	res := p.ProcessFile(context.Background(), Input{Filename: "bad.pdf"})
	require.False(t, res.Success)
	require.Equal(t, "extraction rate limit exceeded", res.Error)
	require.Equal(t, "generic", res.DocumentType)
	require.GreaterOrEqual(t, res.ProcessingTime, 0.0)
	require.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("generic", "failure")))
}

func TestProcessFileReshapesByType(t *testing.T) {
	p := NewProcessor(&fakeExtractor{}, nil, Options{}, nil, nil)

	res := p.ProcessFile(context.Background(), Input{Filename: "cert.pdf", DocumentType: models.DocumentTypeCertificateOfFitness})
	require.True(t, res.Success)
	var cert Certificate
	require.NoError(t, json.Unmarshal(res.Data, &cert))
	require.Equal(t, "cert.pdf", cert.Patient.Name)

	res = p.ProcessFile(context.Background(), Input{Filename: "notes.pdf"})
	var generic map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &generic))
	require.EqualValues(t, 1, generic["chunk_count"])
	require.Contains(t, generic["markdown"], "notes.pdf")
}

func TestProcessFileWithQuestion(t *testing.T) {
	an := &fakeAnalyzer{}
	p := NewProcessor(&fakeExtractor{}, an, Options{}, nil, nil)

	res := p.ProcessFile(context.Background(), Input{Filename: "a.pdf", Question: "fit?"})
	require.True(t, res.Success)
	require.Equal(t, "yes: fit?", res.Answer.Answer)
	require.Contains(t, string(an.evidence), `"chunk_id":"a.pdf-0"`)

	an.err = errors.New("llm response is not json")
	res = p.ProcessFile(context.Background(), Input{Filename: "a.pdf", Question: "fit?"})
	require.False(t, res.Success)
	require.Equal(t, "llm response is not json", res.Error)
	require.NotEmpty(t, res.Data)
}

func TestProcessFileQuestionWithoutAnalyzer(t *testing.T) {
	p := NewProcessor(&fakeExtractor{}, nil, Options{}, nil, nil)
	res := p.ProcessFile(context.Background(), Input{Filename: "a.pdf", Question: "fit?"})
	require.False(t, res.Success)
	require.Equal(t, ErrNoAnalyzer.Error(), res.Error)
}

func TestAskBatch(t *testing.T) {
	an := &fakeAnalyzer{}
	p := NewProcessor(&fakeExtractor{}, an, Options{}, nil, nil)
	stored := &batch.Result{Results: []batch.FileResult{
		{Filename: "a.pdf", Success: true, Chunks: []models.Chunk{{ID: "a-0", Text: "hearing loss"}}},
		{Filename: "b.pdf", Success: true, Markdown: "vision normal"},
		{Filename: "c.pdf", Success: false, Error: "boom"},
	}}

	ans, err := p.AskBatch(context.Background(), stored, "", "hearing?")
	require.NoError(t, err)
	require.Equal(t, "yes: hearing?", ans.Answer)
	require.Contains(t, string(an.evidence), `"filename":"b.pdf"`)

	_, err = p.AskBatch(context.Background(), stored, "b.pdf", "vision?")
	require.NoError(t, err)
	require.False(t, strings.Contains(string(an.evidence), "a.pdf"))

	_, err = p.AskBatch(context.Background(), stored, "zzz.pdf", "q")
	require.ErrorIs(t, err, ErrFileNotInBatch)

	_, err = p.AskBatch(context.Background(), stored, "c.pdf", "q")
	require.ErrorIs(t, err, ErrNoEvidence)
}

func TestAskBatchFallsBackToMarkdown(t *testing.T) {
	an := &fakeAnalyzer{}
	p := NewProcessor(&fakeExtractor{}, an, Options{}, nil, nil)
	res := &batch.Result{ID: "b1", Results: []batch.FileResult{
		{Filename: "notice.html", Success: true, Markdown: "wear spectacles on site"},
	}}

	_, err := p.AskBatch(context.Background(), res, "", "spectacles?")
	require.NoError(t, err)
	require.Contains(t, string(an.evidence), `"chunk_id":"markdown"`)
	require.Contains(t, string(an.evidence), "wear spectacles on site")
}
