// Package llm asks a language model to answer a question over extracted
// document evidence.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/docrelay/models"
	"go.uber.org/zap"
)

// Analyzer answers a question using only the supplied evidence blob.
type Analyzer interface {
	Analyze(ctx context.Context, question string, evidence []byte) (*models.Answer, error)
}

var (
	ErrNotConfigured = errors.New("llm api key not configured")
	ErrNoChoices     = errors.New("llm returned no content")
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Options struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// New builds the Analyzer for opts.Provider. It returns ErrNotConfigured when
// no API key is set so callers can run without question answering.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Analyzer, error) {
	if opts.APIKey == "" {
		return nil, ErrNotConfigured
	}
	switch strings.ToLower(opts.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIClient(opts, logger), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, opts, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

const systemPrompt = `You are a medical document analysis expert specializing in occupational health records. Provide accurate, evidence-based answers.

Rules:
1. Base your answer ONLY on the evidence provided.
2. If information is missing or unclear, say so explicitly.
3. Focus on fitness for work, test results and medical restrictions.
4. Reference the chunk_id of every chunk you relied on.

Respond ONLY with JSON of the form:
{"answer": string, "reasoning": string, "supporting_chunks": [chunk_id, ...]}`

func userPrompt(question string, evidence []byte) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nEvidence:\n")
	b.Write(evidence)
	b.WriteString("\n\nOnly reference information that actually appears in the evidence.")
	return b.String()
}
