package server

import (
	"encoding/json"
	"time"

	"github.com/mohammad-safakhou/docrelay/internal/batch"
	"github.com/mohammad-safakhou/docrelay/models"
)

// HTTPError is the error envelope returned by every endpoint.
type HTTPError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string    `json:"status"`
	Service string    `json:"service"`
	Batches int       `json:"batches"`
	Time    time.Time `json:"time"`
}

// BatchResponse is returned by /process-documents.
type BatchResponse struct {
	BatchID    string             `json:"batch_id"`
	Total      int                `json:"total"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Results    []batch.FileResult `json:"results"`
}

// ProcessDocumentRequest is the JSON body of /process-document.
type ProcessDocumentRequest struct {
	DocumentID       string `json:"documentId"`
	DocumentType     string `json:"documentType"`
	FileURL          string `json:"fileUrl"`
	FileName         string `json:"fileName"`
	MimeType         string `json:"mimeType"`
	CallbackEndpoint string `json:"callbackEndpoint"`
	Question         string `json:"question,omitempty"`
}

type ProcessingResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	DocumentID string `json:"documentId"`
}

// ExtractedData is the extractedData object of a processed callback.
type ExtractedData struct {
	StructuredData json.RawMessage `json:"structured_data"`
	RawResponse    RawResponse     `json:"raw_response"`
	Answer         *models.Answer  `json:"answer,omitempty"`
}

type RawResponse struct {
	Data RawData `json:"data"`
}

type RawData struct {
	Markdown string         `json:"markdown"`
	Chunks   []models.Chunk `json:"chunks"`
}

type CleanupResponse struct {
	Message string `json:"message"`
	BatchID string `json:"batch_id"`
}

type AskRequest struct {
	Question string `json:"question"`
	Filename string `json:"filename,omitempty"`
}

type AskResponse struct {
	BatchID  string `json:"batch_id"`
	Question string `json:"question"`
	Filename string `json:"filename,omitempty"`
	models.Answer
}
