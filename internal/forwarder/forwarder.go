package forwarder

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	werr "github.com/pkg/errors"
)

// DefaultTimeout bounds every backend call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Request is the part of an inbound request that is sent to a backend.
type Request struct {
	Method     string
	Path       string
	// RawPath is the escaped form of Path as the client sent it. It may be
	// empty when Path needs no escaping.
	RawPath    string
	RawQuery   string
	Header     http.Header
	Body       io.Reader
	Host       string
	RemoteAddr string
}

// Response is a backend response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewRequest captures an inbound HTTP request for forwarding.
func NewRequest(r *http.Request) *Request {
	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawPath:    r.URL.EscapedPath(),
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header,
		Body:       r.Body,
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
	}
}

type Option func(*Forwarder)

// WithTransport replaces the HTTP transport used for backend calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.client.Transport = rt
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// Forwarder performs backend calls. It is safe for concurrent use.
type Forwarder struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Forwarder whose backend calls are bounded by timeout.
// A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration, opts ...Option) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	// Bodies must reach the client exactly as the backend encoded them.
	transport.DisableCompression = true

	f := &Forwarder{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		logger:  slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Timeout returns the bound applied to each backend call.
func (f *Forwarder) Timeout() time.Duration {
	return f.timeout
}

// Forward sends req to target and returns the backend response.
// Non-2xx responses are not errors.
func (f *Forwarder) Forward(ctx context.Context, req *Request, target *url.URL) (*Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, werr.Wrap(ErrRequestBody, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	outURL := TargetURL(target, req.Path, req.RawPath, req.RawQuery)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, outURL.String(), bodyReader)
	if err != nil {
		return nil, &TransportError{Backend: target.String(), Err: werr.Wrap(err, "build backend request")}
	}

	outReq.Header = outboundHeader(req.Header)
	if (req.Method == http.MethodPost || req.Method == http.MethodPut) && outReq.Header.Get("Content-Type") == "" {
		outReq.Header.Set("Content-Type", "application/json")
	}
	setForwardedHeaders(outReq.Header, req)

	f.logger.Debug("forwarding request",
		slog.String("method", req.Method),
		slog.String("url", outURL.String()))

	res, err := f.client.Do(outReq)
	if err != nil {
		return nil, &TransportError{Backend: target.String(), Err: werr.Wrapf(err, "%s %s", req.Method, outURL.Path)}
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransportError{Backend: target.String(), Err: werr.Wrap(err, "read backend response")}
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		Body:       resBody,
	}, nil
}

func bufferBody(req *Request) ([]byte, error) {
	if req.Method == http.MethodGet || req.Method == http.MethodHead || req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	return io.ReadAll(req.Body)
}

// TargetURL resolves a request path and query against a backend base URL,
// keeping the base path and the client's escaping of path segments.
func TargetURL(target *url.URL, path, rawPath, rawQuery string) *url.URL {
	out := *target
	out.Path = joinPath(target.Path, path)
	out.RawPath = ""
	if rawPath != "" {
		// url.URL ignores RawPath unless it is a valid encoding of Path.
		out.RawPath = joinPath(target.EscapedPath(), rawPath)
	}
	out.RawQuery = rawQuery
	out.Fragment = ""
	return &out
}

func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		if path == "" {
			return "/"
		}
		return path
	case path == "" || path == "/":
		return base
	}

	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func setForwardedHeaders(h http.Header, req *Request) {
	if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil && clientIP != "" {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}

	if req.Host != "" && h.Get("X-Forwarded-Host") == "" {
		h.Set("X-Forwarded-Host", req.Host)
	}

	if h.Get("X-Forwarded-Proto") == "" {
		h.Set("X-Forwarded-Proto", "http")
	}
}
