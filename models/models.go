package models

import (
	"strings"
)

// DocumentType selects how extracted text is reshaped into structured fields.
type DocumentType string

const (
	DocumentTypeCertificateOfFitness DocumentType = "certificate-of-fitness"
	DocumentTypeGeneric              DocumentType = "generic"
)

// ParseDocumentType normalizes a caller supplied type. Unknown values map to generic.
func ParseDocumentType(s string) DocumentType {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case DocumentTypeCertificateOfFitness, "certificate", "certificate_of_fitness":
		return DocumentTypeCertificateOfFitness
	default:
		return DocumentTypeGeneric
	}
}

// Box is a normalized bounding box (0..1) on a page.
type Box struct {
	Left   float64 `json:"l"`
	Top    float64 `json:"t"`
	Right  float64 `json:"r"`
	Bottom float64 `json:"b"`
}

// Grounding links a chunk of text to where it appears in the source document.
type Grounding struct {
	Page int `json:"page"`
	Box  Box `json:"box"`
}

// Chunk is one unit of extracted text.
type Chunk struct {
	ID        string      `json:"chunk_id"`
	Type      string      `json:"chunk_type,omitempty"`
	Text      string      `json:"text"`
	Grounding []Grounding `json:"grounding,omitempty"`
}

// Pages returns the distinct pages the chunk is grounded on, in order of appearance.
func (c Chunk) Pages() []int {
	var pages []int
	seen := make(map[int]struct{}, len(c.Grounding))
	for _, g := range c.Grounding {
		if _, ok := seen[g.Page]; ok {
			continue
		}
		seen[g.Page] = struct{}{}
		pages = append(pages, g.Page)
	}
	return pages
}

// Document is what an extractor returns for a single file.
type Document struct {
	Markdown string                 `json:"markdown"`
	Chunks   []Chunk                `json:"chunks"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Answer is the LLM response over a set of evidence chunks.
type Answer struct {
	Answer           string   `json:"answer"`
	Reasoning        string   `json:"reasoning"`
	SupportingChunks []string `json:"supporting_chunks"`
}
