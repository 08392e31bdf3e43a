package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/docrelay/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// AnswerSchema is the JSON schema every model response must satisfy.
var AnswerSchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []string{"answer", "reasoning"},
	"properties": map[string]any{
		"answer":    map[string]any{"type": "string"},
		"reasoning": map[string]any{"type": "string"},
		"supporting_chunks": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

var (
	compileOnce  sync.Once
	answerSchema *jsonschema.Schema
	compileErr   error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(AnswerSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("answer.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		answerSchema, compileErr = compiler.Compile("answer.json")
	})
	return answerSchema, compileErr
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// ParseAnswer decodes raw model output into an Answer, rejecting anything that
// is not valid JSON matching AnswerSchema.
func ParseAnswer(raw string) (*models.Answer, error) {
	content := StripFences(raw)
	if content == "" {
		return nil, ErrNoChoices
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("llm response is not json: %w", err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("llm response does not match schema: %w", err)
	}
	var out models.Answer
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if out.SupportingChunks == nil {
		out.SupportingChunks = []string{}
	}
	return &out, nil
}
