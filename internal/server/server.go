// Package server assembles the HTTP server: it builds the state store tiers,
// the analysis pipeline and the endpoint registry, and owns graceful
// shutdown of all of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/clincite/clincite/internal/analysis"
	"github.com/clincite/clincite/internal/api"
	"github.com/clincite/clincite/internal/citations"
	"github.com/clincite/clincite/internal/config"
	"github.com/clincite/clincite/internal/extract"
	"github.com/clincite/clincite/internal/home"
	"github.com/clincite/clincite/internal/jobstore"
	"github.com/clincite/clincite/internal/llm"
	"github.com/clincite/clincite/internal/pipeline"
	"github.com/clincite/clincite/internal/references"
	"github.com/clincite/clincite/internal/server/endpoints"
	"github.com/clincite/clincite/internal/svcctx"
	"github.com/clincite/clincite/internal/uploads"
)

// Server is the main clincite HTTP server.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	homeDir    *home.Dir
	logger     *slog.Logger

	pipeline *pipeline.Pipeline
	store    jobstore.Store

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Home is the application data directory (~/.clincite)
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
	// SwaggerSpecPath overrides the OpenAPI spec location
	SwaggerSpecPath string
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		homeDir:   cfg.Home,
		logger:    cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: cfg.SwaggerSpecPath}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	appCfg := cfg.ConfigManager.Get()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(appCfg.Server.Host, strconv.Itoa(appCfg.Server.Port)),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start initializes the store and pipeline and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.homeDir.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	appCfg := s.configMgr.Get()

	store, redisTier, err := s.buildStore(ctx, appCfg)
	if err != nil {
		s.setNotRunning()
		return err
	}
	s.store = store

	uploadStore, err := uploads.NewStore(s.homeDir.UploadsPath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open upload store: %w", err)
	}

	s.pipeline = s.buildPipeline(appCfg, store, uploadStore, redisTier)

	s.services = &svcctx.Services{
		Store:    store,
		Uploads:  uploadStore,
		Pipeline: s.pipeline,
		Config:   s.configMgr,
		Logger:   s.logger,
		Home:     s.homeDir,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildStore assembles the tiered state store from configuration. The Redis
// tier is returned separately so the search cache can share its connection.
func (s *Server) buildStore(ctx context.Context, appCfg *config.Config) (jobstore.Store, *jobstore.RedisTier, error) {
	fileTier, err := jobstore.NewFileTier(s.homeDir.JobsPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file tier: %w", err)
	}

	storeCfg := jobstore.Config{
		File:   fileTier,
		Logger: s.logger,
	}

	var redisTier *jobstore.RedisTier
	if addr := appCfg.Store.RedisAddr; addr != "" {
		redisTier, err = jobstore.NewRedisTier(ctx, addr, "", 0)
		if err != nil {
			return nil, nil, fmt.Errorf("redis tier unavailable: %w", err)
		}
		storeCfg.Redis = redisTier
		s.logger.Info("redis tier enabled", "addr", addr)
	}

	if dsn := config.ResolveEnvVars(appCfg.Store.PostgresDSN); dsn != "" {
		pgTier, err := jobstore.NewPostgresTier(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres tier unavailable: %w", err)
		}
		storeCfg.Postgres = pgTier
		s.logger.Info("postgres tier enabled")
	}

	return jobstore.New(storeCfg), redisTier, nil
}

// buildPipeline wires the stage implementations from configuration.
func (s *Server) buildPipeline(appCfg *config.Config, store jobstore.Store, uploadStore *uploads.Store, redisTier *jobstore.RedisTier) *pipeline.Pipeline {
	llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:     config.ResolveEnvVars(appCfg.LLM.APIKey),
		Model:      appCfg.LLM.Model,
		BaseURL:    appCfg.LLM.BaseURL,
		Timeout:    time.Duration(appCfg.LLM.TimeoutSeconds) * time.Second,
		MaxRetries: appCfg.LLM.MaxRetries,
	})
	llmTimeout := time.Duration(appCfg.LLM.TimeoutSeconds) * time.Second

	extractor := extract.New(extract.Config{
		Tesseract: appCfg.OCR.Tesseract,
		Pdftoppm:  appCfg.OCR.Pdftoppm,
		Lang:      appCfg.OCR.Lang,
		DPI:       appCfg.OCR.DPI,
		RetryDPI:  appCfg.OCR.RetryDPI,
		MaxPages:  appCfg.OCR.MaxPages,
	}, s.logger)

	pubmed := references.NewPubMedClient(references.PubMedConfig{
		BaseURL:    appCfg.PubMed.BaseURL,
		Timeout:    time.Duration(appCfg.PubMed.TimeoutSeconds) * time.Second,
		MaxResults: appCfg.PubMed.MaxResults,
	})

	pool, err := references.LoadPool()
	if err != nil {
		// The pool is embedded; failing to parse it is a build defect, but
		// retrieval still works from live search alone.
		s.logger.Error("curated reference pool unavailable", "error", err)
	}

	cacheTTL := time.Duration(appCfg.PubMed.CacheTTLHours) * time.Hour
	var cache references.Cache
	if redisTier != nil {
		cache = references.NewRedisCache(redisTier.Client(), cacheTTL)
	} else {
		cache = references.NewMemoryCache(cacheTTL)
	}

	refService := references.NewService(pubmed, pool, cache, appCfg.PubMed.MaxReferences, s.logger)

	return pipeline.New(pipeline.Deps{
		Store:      store,
		Uploads:    uploadStore,
		Extractor:  extractor,
		Analyzer:   analysis.New(llmClient, llmTimeout, s.logger),
		References: refService,
		Citations:  citations.New(llmClient, llmTimeout, s.logger),
		Logger:     s.logger,
	},
		pipeline.WithWorkers(appCfg.Pipeline.Workers),
		pipeline.WithQueueSize(appCfg.Pipeline.QueueSize),
		pipeline.WithJobTimeout(time.Duration(appCfg.Pipeline.JobTimeoutSeconds)*time.Second),
		pipeline.WithStaleAfter(time.Duration(appCfg.Pipeline.StaleAfterSeconds)*time.Second),
	)
}

// shutdown performs graceful shutdown of the HTTP server and pipeline.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.pipeline != nil {
		s.logger.Info("draining pipeline")
		s.pipeline.Shutdown(shutdownCtx)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Store returns the job state store. Nil until Start has run.
func (s *Server) Store() jobstore.Store {
	return s.store
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or pipeline aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.pipeline == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
