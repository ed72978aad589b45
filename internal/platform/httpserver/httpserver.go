// Package httpserver builds the deedgate API server.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the onboarding API. ReadHeaderTimeout bounds
// slow-header clients; per-request deadlines come from the router's timeout
// middleware, not from here.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
