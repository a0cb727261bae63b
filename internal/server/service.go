// Package server exposes the conversion API over HTTP: upload, job status,
// artifact download, job history export and health.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/joseph-ayodele/deckconvert/internal/async"
	"github.com/joseph-ayodele/deckconvert/internal/export"
	"github.com/joseph-ayodele/deckconvert/internal/repository"
	"github.com/joseph-ayodele/deckconvert/internal/storage"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// fileOpener is implemented by stores that can serve artifacts themselves.
type fileOpener interface {
	Open(key string) (*os.File, error)
}

// Options tune the HTTP surface.
type Options struct {
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// ConversionService implements the HTTP handlers.
type ConversionService struct {
	jobs    repository.ConversionJobRepository
	store   storage.Store
	queue   async.Queue
	exports *export.Service
	db      Pinger
	opts    Options
	logger  *zap.Logger
	limiter *RateLimiter
}

func NewConversionService(
	jobs repository.ConversionJobRepository,
	store storage.Store,
	queue async.Queue,
	exports *export.Service,
	db Pinger,
	opts Options,
	logger *zap.Logger,
) *ConversionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	return &ConversionService{
		jobs:    jobs,
		store:   store,
		queue:   queue,
		exports: exports,
		db:      db,
		opts:    opts,
		logger:  logger,
		limiter: NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}
}

// Handler returns the routed API with its middleware chain.
func (s *ConversionService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /convert", s.limiter.Middleware(http.HandlerFunc(s.handleConvert)))
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /files/{key}", s.handleFile)
	mux.HandleFunc("GET /jobs/export", s.handleExport)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	var h http.Handler = mux
	h = cors(s.opts.CORSOrigins, h)
	h = accessLog(s.logger, h)
	h = requestID(h)
	return h
}

// Close releases background resources.
func (s *ConversionService) Close() {
	s.limiter.Stop()
}
