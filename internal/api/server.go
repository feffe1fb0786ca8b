package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/ingest"
	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/reconcile"
	"github.com/GLiquid/dexscreener-adapter/internal/registry"
	"github.com/GLiquid/dexscreener-adapter/internal/scanner"
)

// NetworkBackend bundles the per-network sources the handlers read from.
// The token fetcher is the RPC caller in RPC mode and the subgraph source
// in subgraph mode; the handlers do not know the difference.
type NetworkBackend struct {
	Heads           chain.HeadSource
	Timestamps      chain.TimestampSource
	Tokens          registry.TokenFetcher
	Ingest          *ingest.Engine
	ConfirmationLag uint64
}

// CacheTTLs are the per-endpoint response cache lifetimes.
type CacheTTLs struct {
	Blocks time.Duration
	Assets time.Duration
	Pairs  time.Duration
	Events time.Duration
}

// DefaultCacheTTLs mirror the adapter's operational settings.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Blocks: 5 * time.Second,
		Assets: 300 * time.Second,
		Pairs:  60 * time.Second,
		Events: 5 * time.Second,
	}
}

// Config wires the HTTP surface.
type Config struct {
	Registry *registry.Registry
	Tokens   *registry.TokenCache
	Cache    reconcile.Cache
	Networks map[string]*NetworkBackend
	Runners  []*scanner.Runner
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	TTLs     CacheTTLs
	Logger   *zap.Logger
}

// Server is the read-only HTTP API.
type Server struct {
	registry *registry.Registry
	tokens   *registry.TokenCache
	cache    reconcile.Cache
	networks map[string]*NetworkBackend
	runners  []*scanner.Runner
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	ttls     CacheTTLs
	logger   *zap.Logger
}

// NewServer builds the API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.TTLs == (CacheTTLs{}) {
		cfg.TTLs = DefaultCacheTTLs()
	}
	return &Server{
		registry: cfg.Registry,
		tokens:   cfg.Tokens,
		cache:    cfg.Cache,
		networks: cfg.Networks,
		runners:  cfg.Runners,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		ttls:     cfg.TTLs,
		logger:   cfg.Logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/{network}/latest-block", s.handleLatestBlock).Methods(http.MethodGet)
	r.HandleFunc("/{network}/asset", s.handleAsset).Methods(http.MethodGet)
	r.HandleFunc("/{network}/pair", s.handlePair).Methods(http.MethodGet)
	r.HandleFunc("/{network}/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

func (s *Server) backend(network string) (*NetworkBackend, error) {
	backend, ok := s.networks[network]
	if !ok {
		return nil, &apiError{status: http.StatusNotFound, message: "unknown network: " + network}
	}
	return backend, nil
}

type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.status
		message = apiErr.message
	case errors.Is(err, model.ErrInvalidRange):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, model.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
		message = "upstream unavailable"
	default:
		s.logger.Error("request failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// cached runs the read-through cache: on a miss, compute produces the
// response body which is stored under the key for ttl. Cache failures never
// fail the request.
func (s *Server) cached(ctx context.Context, network, endpoint, params string, ttl time.Duration, compute func() (interface{}, error)) ([]byte, error) {
	key := reconcile.CacheKey(network, endpoint, params)
	if s.cache != nil {
		if body, ok := s.cache.Get(ctx, key); ok {
			s.metrics.CacheHits.WithLabelValues(network, endpoint).Inc()
			return body, nil
		}
		s.metrics.CacheMisses.WithLabelValues(network, endpoint).Inc()
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, body, ttl)
	}
	return body, nil
}
