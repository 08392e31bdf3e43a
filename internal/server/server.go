package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/docrelay/config"
	"github.com/mohammad-safakhou/docrelay/internal/batch"
	"github.com/mohammad-safakhou/docrelay/internal/callback"
	"github.com/mohammad-safakhou/docrelay/internal/document"
	"github.com/mohammad-safakhou/docrelay/internal/extraction"
	"github.com/mohammad-safakhou/docrelay/internal/llm"
	"github.com/mohammad-safakhou/docrelay/internal/metrics"
	"go.uber.org/zap"
)

const serviceName = "docrelay"

// Deps are the collaborators a Server is built from. Metrics may be nil.
type Deps struct {
	Store      batch.Store
	Processor  *document.Processor
	Downloader *callback.Downloader
	Notifier   *callback.Notifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	store     batch.Store
	proc      *document.Processor
	download  *callback.Downloader
	notify    *callback.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	janitor   *batch.Janitor
	auth      *Authenticator
	jobs      sync.WaitGroup
	jobCtx    context.Context
	cancelJob context.CancelFunc
	now       func() time.Time
}

// New wires the echo instance, middleware and routes.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	janitor, err := batch.NewJanitor(deps.Store, cfg.Storage.SweepSchedule, deps.Logger.Named("janitor"))
	if err != nil {
		return nil, err
	}
	janitor.OnSweep = deps.Metrics.Swept
	auth, err := NewAuthenticator(cfg.Server)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:      echo.New(),
		cfg:       cfg,
		store:     deps.Store,
		proc:      deps.Processor,
		download:  deps.Downloader,
		notify:    deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		janitor:   janitor,
		auth:      auth,
		jobCtx:    jobCtx,
		cancelJob: cancel,
		now:       time.Now,
	}
	s.routes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.cfg.Server.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", s.cfg.Server.MaxUploadMB)))

	e.GET("/health", s.health)
	if s.cfg.Telemetry.MetricsEnabled && s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := e.Group("")
	api.Use(s.auth.Middleware())
	api.POST("/", s.processSingle)
	api.POST("/process-documents", s.processDocuments)
	api.POST("/process-document", s.processDocument)
	api.GET("/get-document-data/:batch_id", s.getDocumentData)
	api.DELETE("/cleanup/:batch_id", s.cleanup)
	api.POST("/ask/:batch_id", s.ask)
}

// errorHandler renders every error as {"error": msg} and logs it.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	log := s.logger.Warn
	if code >= http.StatusInternalServerError {
		log = s.logger.Error
	}
	log("request failed",
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err))
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, HTTPError{Error: msg})
}

// Start runs the janitor and serves until ctx is cancelled, then drains
// in-flight requests and background jobs.
func (s *Server) Start(ctx context.Context) error {
	s.janitor.Start()
	defer s.janitor.Stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Server.Address))
		if err := s.echo.Start(s.cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.cancelJob()
		return err
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown stops accepting requests and waits for background jobs up to the
// configured shutdown timeout. Jobs still running after that are cancelled.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("background jobs still running at shutdown, cancelling")
		s.cancelJob()
		<-done
	}
	s.cancelJob()
	return err
}

// Run builds every dependency from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	store, closeStore, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	proc, err := BuildProcessor(ctx, cfg, logger, m)
	if err != nil {
		return err
	}

	srv, err := New(cfg, Deps{
		Store:      store,
		Processor:  proc,
		Downloader: callback.NewDownloader(cfg.Callback.DownloadTimeout, cfg.Server.MaxUploadBytes(), "", logger.Named("download")),
		Notifier: callback.NewNotifier(callback.NotifierOptions{
			APIKey:  cfg.Callback.APIKey,
			Timeout: cfg.Callback.Timeout,
			Retries: cfg.Callback.MaxRetries,
		}, logger.Named("callback"), m),
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// BuildProcessor wires the extraction router and, when an LLM key is set,
// the question answering analyzer.
func BuildProcessor(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*document.Processor, error) {
	landing := extraction.NewLandingClient(extraction.LandingOptions{
		Endpoint: cfg.Extraction.Endpoint,
		APIKey:   cfg.Extraction.APIKey,
		Timeout:  cfg.Extraction.Timeout,
		Retries:  cfg.Extraction.MaxRetries,
		Backoff:  cfg.Extraction.Backoff,
	}, logger.Named("landing"))
	if cfg.Extraction.APIKey == "" {
		logger.Warn("extraction api key not set, only HTML documents can be processed")
	}
	extractor := &extraction.Router{HTML: extraction.HTMLExtractor{}, Default: landing}

	analyzer, err := llm.New(ctx, llm.Options{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger.Named("llm"))
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("llm api key not set, question answering disabled")
		analyzer = nil
	case err != nil:
		return nil, err
	}

	return document.NewProcessor(extractor, analyzer, document.Options{
		MaxWorkers: cfg.Extraction.MaxWorkers,
		BatchSize:  cfg.Extraction.BatchSize,
		TopK:       cfg.LLM.TopK,
	}, logger.Named("processor"), m), nil
}

// OpenStore builds the batch store selected by cfg.Backend. The returned
// func releases its connections.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (batch.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client, err := batch.Conn(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Timeout)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("batch store ready", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr()))
		return batch.NewRedisStore(client, cfg.Retention), func() { _ = client.Close() }, nil
	case config.BackendPostgres:
		dsn, err := cfg.Postgres.DSN()
		if err != nil {
			return nil, nil, err
		}
		pctx := ctx
		if cfg.Postgres.Timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, cfg.Postgres.Timeout)
			defer cancel()
		}
		db, err := batch.OpenPostgres(pctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("batch store ready", zap.String("backend", "postgres"))
		return batch.NewPostgresStore(db, cfg.Retention), func() { _ = db.Close() }, nil
	default:
		logger.Info("batch store ready", zap.String("backend", "memory"), zap.Duration("retention", cfg.Retention))
		return batch.NewMemoryStore(cfg.Retention), func() {}, nil
	}
}
