// Package api serves the document repository, previews and merges over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/docmerge/core/cas"
	"github.com/FocuswithJustin/docmerge/core/merge"
	"github.com/FocuswithJustin/docmerge/internal/cache"
	"github.com/FocuswithJustin/docmerge/internal/config"
	"github.com/FocuswithJustin/docmerge/internal/history"
	"github.com/FocuswithJustin/docmerge/internal/logging"
	"github.com/FocuswithJustin/docmerge/internal/preview"
	"github.com/FocuswithJustin/docmerge/internal/repository"
	"github.com/FocuswithJustin/docmerge/internal/server"
)

// Version is reported by / and /health.
var Version = "dev"

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// Previewer converts a document to PDF.
type Previewer interface {
	Convert(ctx context.Context, path string) ([]byte, error)
}

// Server holds everything the handlers need. Build it with New.
type Server struct {
	cfg      config.Config
	repo     *repository.Repository
	merger   *merge.Merger
	preview  Previewer
	history  *history.Store
	hub      *Hub
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	started  time.Time
}

// Option overrides a dependency New would otherwise build from the config.
type Option func(*Server)

// WithPreviewer replaces the wkhtmltopdf-backed converter.
func WithPreviewer(p Previewer) Option {
	return func(s *Server) { s.preview = p }
}

// WithHistory uses an already open history store.
func WithHistory(h *history.Store) Option {
	return func(s *Server) { s.history = h }
}

// New builds a server from cfg, which must already be validated.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	repo, err := repository.New(cfg.Repository, repository.WithListingTTL(cfg.ListingTTL))
	if err != nil {
		return nil, fmt.Errorf("document repository: %w", err)
	}

	s := &Server{
		cfg:  cfg,
		repo: repo,
		hub:  NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.merger = merge.New(repo,
		merge.WithCollisionPolicy(cfg.Policy()),
		merge.WithPreload(cfg.Merge.Preload))

	if s.preview == nil {
		var popts []preview.Option
		if cfg.CacheDir != "" {
			store, err := cas.NewStore(cfg.CacheDir)
			if err != nil {
				return nil, fmt.Errorf("preview cache: %w", err)
			}
			popts = append(popts, preview.WithCache(store))
		}
		if mb := cfg.Renderer.MemoryCacheMB; mb > 0 {
			popts = append(popts, preview.WithMemoryCache(cache.NewBytesLRU[string](int64(mb)<<20)))
		}
		s.preview = preview.New(preview.NewWkhtmltopdf(cfg.Renderer.Binary, cfg.Renderer.Timeout), popts...)
	}

	if s.history == nil && cfg.HistoryDB != "" {
		if s.history, err = history.Open(cfg.HistoryDB); err != nil {
			return nil, fmt.Errorf("merge history: %w", err)
		}
	}

	if cfg.RateLimit.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.Burst,
		})
	}
	return s, nil
}

// Repository returns the document repository the server reads from.
func (s *Server) Repository() *repository.Repository { return s.repo }

// Start runs the background goroutines (WebSocket hub, rate limiter
// cleanup) until ctx ends.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}
}

// Close releases the history database.
func (s *Server) Close() error {
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

// routes configures all HTTP routes.
func (s *Server) routes() *http.ServeMux {
	limit := func(h http.HandlerFunc) http.Handler {
		if s.limiter == nil {
			return h
		}
		return s.limiter.Middleware(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/get-documents", s.handleDocuments)
	mux.Handle("/api/get-document-preview-pdf", limit(s.handlePreview))
	mux.Handle("/api/merge-documents", limit(s.handleMerge))
	mux.HandleFunc("/api/merges", s.handleMerges)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Handler returns the routes wrapped in the middleware chain: security
// headers, CORS, then request id and request logging outermost.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = server.SecurityHeadersWithCSP(server.APICSPConfig(), s.routes())

	cors := server.DefaultCORSConfig()
	cors.AllowedOrigins = s.cfg.AllowedOrigins
	handler = server.CORSMiddlewareWithConfig(cors, handler)

	return logging.CombinedMiddleware(handler)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.TLS.Enabled {
		for _, f := range []string{s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile} {
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("TLS file not found: %w", err)
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logStartup()

	errc := make(chan error, 1)
	go func() {
		if s.cfg.TLS.Enabled {
			errc <- srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			errc <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) logStartup() {
	protocol, wsProtocol := "http", "ws"
	if s.cfg.TLS.Enabled {
		protocol, wsProtocol = "https", "wss"
		logging.Info("TLS enabled", "cert_file", s.cfg.TLS.CertFile)
	} else {
		logging.Warn("TLS disabled - using plain HTTP",
			"recommendation", "consider using TLS or reverse proxy for production")
	}
	logging.ServerStartup("docmerge", protocol, s.cfg.Port,
		"websocket_protocol", wsProtocol,
		"repository", s.repo.Root(),
		"collision_policy", s.merger.Policy().String(),
		"history", s.history != nil)

	if len(s.cfg.AllowedOrigins) > 0 {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "restricted",
			"allowed_origins_count", len(s.cfg.AllowedOrigins))
	} else {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "permissive",
			"note", "allowing all origins (*) - consider restricting for production")
	}
}
