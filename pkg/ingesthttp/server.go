// Package ingesthttp implements the TLS 1.3-only ingest HTTP surface:
// /ingest/{ndjson,bulk,multipart} upload handlers, /health and /health/db
// liveness checks, and /metrics. Grounded in
// _examples/original_source/src/lib.rs's run() (route table, TLS
// enforcement) and src/ingest/handler.rs (per-route streaming behavior).
package ingesthttp

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/persist"
	"github.com/cuemby/vigil/pkg/pii"
)

// maxBodyBytes caps every request body the ingest surface accepts.
const maxBodyBytes = 10 * 1024 * 1024

// Config configures a Server.
type Config struct {
	Addr            string
	TLSConfig       *tls.Config
	Store           graph.Store
	Batcher         *persist.Batcher
	Metrics         *metrics.Registry
	Gatherer        prometheus.Gatherer
	PII             *pii.Engine
	CanonSalt       string
	RateLimitRPS    float64
	RateLimitBurst  int
	AutoProcessBulk bool
}

// Server is the ingest HTTPS listener.
type Server struct {
	httpServer *http.Server
	state      *appState
}

// appState is threaded through every handler, the Go analogue of the
// original's AppState passed through Axum's State extractor.
type appState struct {
	store           graph.Store
	batcher         *persist.Batcher
	metrics         *metrics.Registry
	pii             *pii.Engine
	salt            string
	autoProcessBulk bool
}

// NewServer builds a Server bound to cfg. The returned Server has not yet
// started listening; call ListenAndServe.
func NewServer(cfg Config) *Server {
	state := &appState{
		store:           cfg.Store,
		batcher:         cfg.Batcher,
		metrics:         cfg.Metrics,
		pii:             cfg.PII,
		salt:            cfg.CanonSalt,
		autoProcessBulk: cfg.AutoProcessBulk,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ingest/ndjson", state.handleNDJSON)
	mux.HandleFunc("/ingest/bulk", state.handleBulk)
	mux.HandleFunc("/ingest/multipart", state.handleMultipart)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/health/db", state.handleHealthDB)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	limiter := newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := securityHeaders(limiter.middleware(maxBody(mux)))

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			TLSConfig:    cfg.TLSConfig,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		state: state,
	}
}

// Handler returns the server's full handler chain (routes plus
// middleware), letting tests drive it with httptest without a real TLS
// listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the TLS listener. It blocks until the server stops
// or fails.
func (s *Server) ListenAndServe() error {
	log.WithComponent("ingesthttp").Info().Str("addr", s.httpServer.Addr).Msg("ingest HTTPS listener starting")
	return s.httpServer.ListenAndServeTLS("", "")
}

// Shutdown gracefully stops the listener, waiting for in-flight requests to
// complete or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
