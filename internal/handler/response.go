package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/angeloszaimis/caching-proxy/internal/cache"
	"github.com/angeloszaimis/caching-proxy/internal/forwarder"
	"github.com/angeloszaimis/caching-proxy/internal/metrics"
)

const (
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders  = "Content-Type, Accept, Authorization, X-Requested-With"
	corsExposeHeaders = "X-Cache, X-Backend-Server"
)

// Headers the proxy sets itself or never exposes from a backend.
var droppedResponseHeaders = []string{
	"Content-Length",
	"Server",
	"X-Powered-By",
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Expose-Headers",
	"Access-Control-Max-Age",
}

type errorBody struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
}

func sanitizeResponseHeader(h http.Header) http.Header {
	clean := forwarder.StripHopHeaders(h)
	for _, name := range droppedResponseHeaders {
		clean.Del(name)
	}
	return clean
}

// normalizeErrorBody labels a JSON error body as JSON. Anything else is
// passed through untouched.
func normalizeErrorBody(h http.Header, body []byte) {
	if len(body) == 0 || !json.Valid(body) {
		return
	}
	if mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type")); err == nil && strings.HasSuffix(mediaType, "json") {
		return
	}
	h.Set("Content-Type", "application/json")
}

func writeResponse(w http.ResponseWriter, r *http.Request, status int, header http.Header, body []byte, cacheStatus metrics.CacheStatus) {
	out := w.Header()
	for name, values := range header {
		out[name] = append([]string(nil), values...)
	}
	setCORSHeaders(out)
	out.Set("X-Cache", string(cacheStatus))
	out.Set("Content-Length", strconv.Itoa(len(body)))

	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	body, _ := json.Marshal(errorBody{
		Status:  status,
		Error:   http.StatusText(status),
		Message: message,
	})

	setCORSHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// cacheURL is the request URL used for cache keys. A format negotiated
// from Accept is added when the query does not name one, so JSON and XML
// representations of a resource never share an entry.
func cacheURL(r *http.Request) string {
	raw := r.URL.RequestURI()

	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil || query.Has(cache.FormatParam) {
		return raw
	}

	format := negotiateFormat(r.Header.Get("Accept"))
	if format == "" {
		return raw
	}

	query.Set(cache.FormatParam, format)
	return r.URL.EscapedPath() + "?" + query.Encode()
}

// negotiateFormat picks json or xml from an Accept header, honouring
// q-values. Ties go to the earlier media range.
func negotiateFormat(accept string) string {
	best, bestQ := "", 0.0

	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}

		var format string
		switch {
		case strings.HasSuffix(mediaType, "/json") || strings.HasSuffix(mediaType, "+json"):
			format = "json"
		case strings.HasSuffix(mediaType, "/xml") || strings.HasSuffix(mediaType, "+xml"):
			format = "xml"
		default:
			continue
		}

		q := 1.0
		if raw, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				q = parsed
			}
		}

		if q > bestQ {
			best, bestQ = format, q
		}
	}

	return best
}
