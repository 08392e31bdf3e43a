// Package document runs uploaded files through extraction, reshapes the
// result per document type and optionally answers a question over it.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/docrelay/internal/batch"
	"github.com/mohammad-safakhou/docrelay/internal/evidence"
	"github.com/mohammad-safakhou/docrelay/internal/extraction"
	"github.com/mohammad-safakhou/docrelay/internal/llm"
	"github.com/mohammad-safakhou/docrelay/internal/metrics"
	"github.com/mohammad-safakhou/docrelay/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyBatch     = errors.New("no files provided")
	ErrBatchTooLarge  = errors.New("too many files in batch")
	ErrNoAnalyzer     = errors.New("question answering is not configured")
	ErrNoEvidence     = errors.New("no extracted content to answer from")
	ErrFileNotInBatch = errors.New("file not found in batch")
)

// Input is one file waiting to be processed.
type Input struct {
	Path         string
	Filename     string
	ContentType  string
	DocumentType models.DocumentType
	Question     string
}

type Options struct {
	MaxWorkers int
	BatchSize  int
	TopK       int
}

type Processor struct {
	extractor extraction.Extractor
	analyzer  llm.Analyzer
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewProcessor wires a processor. analyzer and m may be nil.
func NewProcessor(ex extraction.Extractor, analyzer llm.Analyzer, opts Options, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.TopK <= 0 {
		opts.TopK = evidence.DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		extractor: ex,
		analyzer:  analyzer,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// CanAnswer reports whether an Analyzer is configured.
func (p *Processor) CanAnswer() bool { return p.analyzer != nil }

// ProcessFile never returns an error: failures are reported on the result.
func (p *Processor) ProcessFile(ctx context.Context, in Input) (res batch.FileResult) {
	start := time.Now()
	docType := in.DocumentType
	if docType == "" {
		docType = models.DocumentTypeGeneric
	}
	res = batch.FileResult{Filename: in.Filename, DocumentType: string(docType)}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing document", zap.String("file", in.Filename), zap.Any("panic", r))
			res.Success = false
			res.Error = fmt.Sprintf("internal error: %v", r)
		}
		took := time.Since(start)
		res.ProcessingTime = took.Seconds()
		p.metrics.ObserveDocument(string(docType), res.Success, took)
	}()

	doc, err := p.extractor.Extract(ctx, in.Path, in.Filename, in.ContentType)
	if err != nil {
		p.logger.Warn("extraction failed", zap.String("file", in.Filename), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	res.Markdown = doc.Markdown
	res.Chunks = doc.Chunks

	data, err := Reshape(docType, doc, p.now())
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Data = data
	res.Success = true

	if in.Question == "" {
		return res
	}
	answer, err := p.Ask(ctx, []evidence.Source{evidence.SourceFrom(in.Filename, doc)}, in.Question)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		return res
	}
	res.Answer = answer
	return res
}

// ProcessBatch processes files concurrently on a bounded pool. Results keep
// the order of ins.
func (p *Processor) ProcessBatch(ctx context.Context, ins []Input) ([]batch.FileResult, error) {
	if len(ins) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(ins) > p.opts.BatchSize {
		return nil, fmt.Errorf("%w: %d files, maximum is %d", ErrBatchTooLarge, len(ins), p.opts.BatchSize)
	}
	out := make([]batch.FileResult, len(ins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxWorkers)
	for i := range ins {
		g.Go(func() error {
			out[i] = p.ProcessFile(gctx, ins[i])
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// Ask answers question over the chunks of sources.
func (p *Processor) Ask(ctx context.Context, sources []evidence.Source, question string) (*models.Answer, error) {
	if p.analyzer == nil {
		return nil, ErrNoAnalyzer
	}
	items, err := evidence.Select(sources, question, p.opts.TopK)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoEvidence
	}
	blob, err := evidence.Blob(items)
	if err != nil {
		return nil, err
	}
	answer, err := p.analyzer.Analyze(ctx, question, blob)
	p.metrics.ObserveLLM(err == nil)
	if err != nil {
		p.logger.Warn("question answering failed", zap.Error(err))
		return nil, err
	}
	return answer, nil
}

// AskBatch answers question over a stored batch, or over a single file of it
// when filename is set.
func (p *Processor) AskBatch(ctx context.Context, res *batch.Result, filename, question string) (*models.Answer, error) {
	var sources []evidence.Source
	for _, fr := range res.Results {
		if filename != "" && fr.Filename != filename {
			continue
		}
		if !fr.Success && len(fr.Chunks) == 0 {
			continue
		}
		sources = append(sources, evidence.SourceFrom(fr.Filename, &models.Document{Markdown: fr.Markdown, Chunks: fr.Chunks}))
	}
	if filename != "" && len(sources) == 0 {
		if _, ok := res.File(filename); !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotInBatch, filename)
		}
	}
	return p.Ask(ctx, sources, question)
}

type genericData struct {
	Markdown   string                 `json:"markdown"`
	Metadata   map[string]interface{} `json:"metadata"`
	ChunkCount int                    `json:"chunk_count"`
}

// Reshape turns an extracted document into the structured data blob for its type.
func Reshape(docType models.DocumentType, doc *models.Document, now time.Time) (json.RawMessage, error) {
	var v any
	switch docType {
	case models.DocumentTypeCertificateOfFitness:
		v = ParseCertificate(doc.Markdown, now)
	default:
		meta := doc.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		v = genericData{Markdown: doc.Markdown, Metadata: meta, ChunkCount: len(doc.Chunks)}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", docType, err)
	}
	return b, nil
}
