package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angeloszaimis/caching-proxy/internal/backend"
	"github.com/angeloszaimis/caching-proxy/internal/cache"
	"github.com/angeloszaimis/caching-proxy/internal/forwarder"
	"github.com/angeloszaimis/caching-proxy/internal/metrics"
)

// nginx convention for a client that went away before the response.
const statusClientClosedRequest = 499

// Selector picks the backend for the next forwarded request.
type Selector interface {
	Next() *backend.Backend
}

// Forwarder sends a request to one backend.
type Forwarder interface {
	Forward(ctx context.Context, req *forwarder.Request, target *url.URL) (*forwarder.Response, error)
}

type Option func(*ProxyHandler)

// WithStatic serves paths with one of the given extensions from files
// instead of forwarding them.
func WithStatic(files http.Handler, extensions []string) Option {
	return func(h *ProxyHandler) {
		h.static = files
		h.staticExt = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			h.staticExt[ext] = true
		}
	}
}

// WithCoalescing controls whether concurrent identical cache misses share
// one backend call. It is on by default.
func WithCoalescing(enabled bool) Option {
	return func(h *ProxyHandler) {
		h.coalesce = enabled
	}
}

type ProxyHandler struct {
	logger    *slog.Logger
	balancer  Selector
	cache     *cache.ResponseCache
	forwarder Forwarder
	metrics   *metrics.Metrics
	static    http.Handler
	staticExt map[string]bool
	coalesce  bool
	flights   singleflight.Group
}

type fetchResult struct {
	backend  *backend.Backend
	response *forwarder.Response
}

func NewProxyHandler(
	logger *slog.Logger,
	balancer Selector,
	responseCache *cache.ResponseCache,
	fwd Forwarder,
	m *metrics.Metrics,
	opts ...Option,
) *ProxyHandler {
	h := &ProxyHandler{
		logger:    logger,
		balancer:  balancer,
		cache:     responseCache,
		forwarder: fwd,
		metrics:   m,
		coalesce:  true,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		preflight(w)
		return
	}

	if h.isStatic(r) {
		h.static.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	outcome := metrics.Outcome{Cache: metrics.CacheBypass}
	defer func() {
		outcome.Duration = time.Since(start)
		h.metrics.RecordRequest(outcome)
	}()

	if cache.IsCacheable(r.Method) {
		h.serveRead(w, r, &outcome)
		return
	}

	if isWrite(r.Method) {
		family := resourceFamily(r.URL.Path)
		removed := h.cache.Invalidate(family)
		h.logger.Debug("Invalidated cached reads",
			slog.String("method", r.Method),
			slog.String("pattern", family),
			slog.Int("removed", removed))
	}

	result, err := h.forward(r.Context(), r)
	h.finish(w, r, result, err, &outcome, nil)
}

func (h *ProxyHandler) serveRead(w http.ResponseWriter, r *http.Request, outcome *metrics.Outcome) {
	keyURL := cacheURL(r)

	if entry, ok := h.cache.Lookup(r.Method, keyURL); ok {
		outcome.Cache = metrics.CacheHit
		outcome.StatusCode = entry.StatusCode

		h.logger.Debug("Cache hit", slog.String("url", keyURL))
		writeResponse(w, r, entry.StatusCode, entry.Header, entry.Body, metrics.CacheHit)
		return
	}

	key, cacheable := cache.Key(r.Method, keyURL)
	if !cacheable {
		result, err := h.forward(r.Context(), r)
		h.finish(w, r, result, err, outcome, nil)
		return
	}

	outcome.Cache = metrics.CacheMiss
	gen := h.cache.Generation()

	store := func(res *forwarder.Response, header http.Header) {
		if h.cache.StoreIfGeneration(gen, r.Method, keyURL, res.Body, header, res.StatusCode) {
			h.logger.Debug("Cached response", slog.String("key", key))
		}
	}

	if !h.coalesce {
		result, err := h.forward(r.Context(), r)
		h.finish(w, r, result, err, outcome, store)
		return
	}

	// The generation is part of the flight key so a read arriving after a
	// write never joins a fetch that started before it.
	led := false
	v, err, _ := h.flights.Do(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		led = true
		result, err := h.forward(context.WithoutCancel(r.Context()), r)
		return result, err
	})

	result, _ := v.(fetchResult)
	if !led {
		store = nil
	}

	h.finish(w, r, result, err, outcome, store)

	if !led {
		// Followers did not contact a backend themselves.
		outcome.Backend = ""
	}
}

func (h *ProxyHandler) forward(ctx context.Context, r *http.Request) (fetchResult, error) {
	target := h.balancer.Next()

	h.logger.Debug("Forwarding to backend",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("backend", target.Address()))

	req := forwarder.NewRequest(r)
	if cache.IsCacheable(r.Method) {
		// Cached bodies are replayed to any client, so ask for an identity
		// encoding rather than whatever this client happens to accept.
		req.Header = req.Header.Clone()
		req.Header.Del("Accept-Encoding")
	}

	res, err := h.forwarder.Forward(ctx, req, target.URL())
	return fetchResult{backend: target, response: res}, err
}

// finish reconciles a backend result into the client response. store is
// called for successful GET responses that may be cached.
func (h *ProxyHandler) finish(
	w http.ResponseWriter,
	r *http.Request,
	result fetchResult,
	err error,
	outcome *metrics.Outcome,
	store func(*forwarder.Response, http.Header),
) {
	if result.backend != nil {
		outcome.Backend = result.backend.Address()
	}

	if err != nil {
		outcome.StatusCode = h.writeForwardError(w, r, result.backend, err)
		return
	}

	res := result.response
	header := sanitizeResponseHeader(res.Header)
	if result.backend != nil {
		header.Set("X-Backend-Server", result.backend.Address())
	}
	body := res.Body

	switch {
	case res.StatusCode >= http.StatusBadRequest:
		normalizeErrorBody(header, body)
	case r.Method == http.MethodGet && res.StatusCode == http.StatusOK && store != nil &&
		header.Get("Content-Encoding") == "":
		store(res, header)
	}

	outcome.StatusCode = res.StatusCode
	writeResponse(w, r, res.StatusCode, header, body, outcome.Cache)
}

func (h *ProxyHandler) writeForwardError(w http.ResponseWriter, r *http.Request, target *backend.Backend, err error) int {
	addr := ""
	if target != nil {
		addr = target.Address()
	}

	if r.Context().Err() != nil {
		h.logger.Debug("Client went away before the backend answered",
			slog.String("path", r.URL.Path),
			slog.String("backend", addr))
		return statusClientClosedRequest
	}

	if errors.Is(err, forwarder.ErrRequestBody) {
		h.logger.Warn("Failed to read request body",
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		writeError(w, http.StatusBadRequest, "could not read request body")
		return http.StatusBadRequest
	}

	var transportErr *forwarder.TransportError
	errors.As(err, &transportErr)

	if transportErr != nil && transportErr.Timeout() {
		h.logger.Warn("Backend timed out",
			slog.String("backend", addr),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		writeError(w, http.StatusGatewayTimeout, "backend timed out")
		return http.StatusGatewayTimeout
	}

	h.logger.Warn("Backend unavailable",
		slog.String("backend", addr),
		slog.String("path", r.URL.Path),
		slog.Any("err", err))
	writeError(w, http.StatusBadGateway, "backend unavailable")
	return http.StatusBadGateway
}

func (h *ProxyHandler) isStatic(r *http.Request) bool {
	if h.static == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		return false
	}
	return h.staticExt[strings.ToLower(path.Ext(r.URL.Path))]
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// resourceFamily returns the first path segment, e.g. "/items" for
// "/items/42". Writes drop every cached read of the family.
func resourceFamily(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}
