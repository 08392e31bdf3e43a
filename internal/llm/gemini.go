package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/docrelay/models"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient answers questions through the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

func NewGeminiClient(ctx context.Context, opts Options, logger *zap.Logger) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		logger:      logger,
	}, nil
}

func (g *GeminiClient) Analyze(ctx context.Context, question string, evidence []byte) (*models.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr(float32(g.temperature)),
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.maxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt(question, evidence)), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	answer, err := ParseAnswer(resp.Text())
	if err != nil {
		g.logger.Warn("gemini answer rejected", zap.Error(err))
		return nil, err
	}
	return answer, nil
}
