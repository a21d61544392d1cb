// Package handler implements the proxy request pipeline.
//
// ProxyHandler answers CORS preflights itself, hands static assets to a
// file server, replays cached GET responses, invalidates cached reads
// before forwarding writes, forwards everything else to the next backend
// in the rotation and reconciles the backend response before it reaches
// the client. Every proxied request is recorded in metrics exactly once.
package handler
