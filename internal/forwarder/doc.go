// Package forwarder sends one inbound request to a chosen backend and
// returns the backend response as raw status, headers and body bytes.
//
// Connection-scoped headers of the client hop are never copied to the
// backend hop. Request bodies of methods other than GET and HEAD are
// buffered completely before the outbound request is built. Backend
// responses are returned verbatim whatever their status; only failures to
// talk to the backend at all (refused connections, DNS errors, timeouts)
// are reported as errors, always as *TransportError.
package forwarder
