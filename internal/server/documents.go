package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/docrelay/internal/batch"
	"github.com/mohammad-safakhou/docrelay/internal/callback"
	"github.com/mohammad-safakhou/docrelay/internal/document"
	"github.com/mohammad-safakhou/docrelay/internal/export"
	"github.com/mohammad-safakhou/docrelay/models"
	"go.uber.org/zap"
)

func (s *Server) health(c echo.Context) error {
	ctx := c.Request().Context()
	removed, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Warn("health sweep failed", zap.Error(err))
	} else {
		s.metrics.Swept(removed)
	}
	n, err := s.store.Len(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "batch store unavailable: "+err.Error())
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Batches: n,
		Time:    s.now().UTC(),
	})
}

// processSingle handles POST / with one multipart file.
func (s *Server) processSingle(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	in, cleanup, err := s.saveUpload(fh)
	if err != nil {
		return err
	}
	defer cleanup()
	in.DocumentType = models.ParseDocumentType(c.FormValue("document_type"))
	in.Question = strings.TrimSpace(c.FormValue("question"))

	res := s.proc.ProcessFile(c.Request().Context(), in)
	if !res.Success {
		return echo.NewHTTPError(http.StatusInternalServerError, res.Error)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) processDocuments(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required: "+err.Error())
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	docType := models.ParseDocumentType(c.FormValue("document_type"))
	question := strings.TrimSpace(c.FormValue("question"))

	inputs := make([]document.Input, 0, len(files))
	for _, fh := range files {
		in, cleanup, err := s.saveUpload(fh)
		if err != nil {
			return err
		}
		defer cleanup()
		in.DocumentType = docType
		in.Question = question
		inputs = append(inputs, in)
	}

	ctx := c.Request().Context()
	results, err := s.proc.ProcessBatch(ctx, inputs)
	switch {
	case errors.Is(err, document.ErrEmptyBatch), errors.Is(err, document.ErrBatchTooLarge):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return err
	}

	stored := &batch.Result{ID: strings.TrimSpace(c.FormValue("batch_id")), Results: results}
	id, err := s.store.Put(ctx, stored)
	if err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	s.metrics.BatchStored()
	ok, failed := stored.Counts()
	s.logger.Info("batch processed", zap.String("batch_id", id), zap.Int("successful", ok), zap.Int("failed", failed))
	return c.JSON(http.StatusOK, BatchResponse{
		BatchID:    id,
		Total:      len(results),
		Successful: ok,
		Failed:     failed,
		Results:    results,
	})
}

// processDocument accepts a signed file URL and processes it in the
// background, reporting the outcome to the callback endpoint.
func (s *Server) processDocument(c echo.Context) error {
	var req ProcessDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DocumentID == "" || req.FileURL == "" || req.CallbackEndpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "documentId, fileUrl and callbackEndpoint are required")
	}
	if req.FileName == "" {
		req.FileName = filepath.Base(strings.SplitN(req.FileURL, "?", 2)[0])
	}
	s.logger.Info("document accepted", zap.String("document_id", req.DocumentID), zap.String("file", req.FileName))

	s.jobs.Add(1)
	s.metrics.JobStarted()
	go s.runJob(req)

	return c.JSON(http.StatusAccepted, ProcessingResponse{
		Status:     "processing",
		Message:    "Document processing started",
		DocumentID: req.DocumentID,
	})
}

func (s *Server) runJob(req ProcessDocumentRequest) {
	defer s.jobs.Done()
	defer s.metrics.JobDone()
	ctx := s.jobCtx
	log := s.logger.With(zap.String("document_id", req.DocumentID))

	fail := func(err error) {
		log.Warn("document processing failed", zap.Error(err))
		_ = s.notify.Notify(ctx, req.CallbackEndpoint, callback.Failed(req.DocumentID, err))
	}

	path, err := s.download.Fetch(ctx, req.FileURL, req.FileName)
	if err != nil {
		fail(err)
		return
	}
	defer removeTemp(log, path)

	res := s.proc.ProcessFile(ctx, document.Input{
		Path:         path,
		Filename:     req.FileName,
		ContentType:  req.MimeType,
		DocumentType: models.ParseDocumentType(req.DocumentType),
		Question:     strings.TrimSpace(req.Question),
	})
	if !res.Success {
		fail(errors.New(res.Error))
		return
	}
	_ = s.notify.Notify(ctx, req.CallbackEndpoint, callback.Processed(req.DocumentID, ExtractedData{
		StructuredData: res.Data,
		RawResponse:    RawResponse{Data: RawData{Markdown: res.Markdown, Chunks: res.Chunks}},
		Answer:         res.Answer,
	}))
}

func (s *Server) getDocumentData(c echo.Context) error {
	id := c.Param("batch_id")
	res, err := s.store.Get(c.Request().Context(), id)
	if errors.Is(err, batch.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "batch not found or expired")
	}
	if err != nil {
		return err
	}
	if strings.EqualFold(c.QueryParam("format"), "xlsx") {
		b, err := export.BatchXLSX(res)
		if err != nil {
			return err
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "batch-"+id+".xlsx"))
		return c.Blob(http.StatusOK, export.ContentType, b)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) cleanup(c echo.Context) error {
	id := c.Param("batch_id")
	existed, err := s.store.Delete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !existed {
		return echo.NewHTTPError(http.StatusNotFound, "batch not found")
	}
	return c.JSON(http.StatusOK, CleanupResponse{Message: "Batch cleaned up", BatchID: id})
}

func (s *Server) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	if !s.proc.CanAnswer() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, document.ErrNoAnalyzer.Error())
	}
	id := c.Param("batch_id")
	ctx := c.Request().Context()
	res, err := s.store.Get(ctx, id)
	if errors.Is(err, batch.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "batch not found or expired")
	}
	if err != nil {
		return err
	}

	answer, err := s.proc.AskBatch(ctx, res, req.Filename, req.Question)
	switch {
	case errors.Is(err, document.ErrFileNotInBatch):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, document.ErrNoEvidence):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, AskResponse{BatchID: id, Question: req.Question, Filename: req.Filename, Answer: *answer})
}

// saveUpload copies an uploaded file to a temp file keeping its extension.
func (s *Server) saveUpload(fh *multipart.FileHeader) (document.Input, func(), error) {
	src, err := fh.Open()
	if err != nil {
		return document.Input{}, nil, echo.NewHTTPError(http.StatusBadRequest, "open upload: "+err.Error())
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "docrelay-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return document.Input{}, nil, fmt.Errorf("create temp file: %w", err)
	}
	path := dst.Name()
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		removeTemp(s.logger, path)
		return document.Input{}, nil, fmt.Errorf("save upload %s: %w", fh.Filename, err)
	}
	in := document.Input{
		Path:        path,
		Filename:    filepath.Base(fh.Filename),
		ContentType: fh.Header.Get(echo.HeaderContentType),
	}
	return in, func() { removeTemp(s.logger, path) }, nil
}

func removeTemp(log *zap.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove temp file", zap.String("path", path), zap.Error(err))
	}
}
