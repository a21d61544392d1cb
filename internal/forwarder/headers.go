package forwarder

import (
	"net/http"
	"strings"
)

// hopHeaders are meaningful only for a single transport-level connection.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopHeaders returns a copy of h without hop-by-hop headers, including
// any header listed in Connection.
func StripHopHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}

	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				out.Del(token)
			}
		}
	}

	for _, name := range hopHeaders {
		out.Del(name)
	}

	return out
}

func outboundHeader(in http.Header) http.Header {
	out := StripHopHeaders(in)
	out.Del("Host")
	out.Del("Content-Length")
	return out
}
