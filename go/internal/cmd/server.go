package main

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// setupServer serves the gateway over HTTP/1.1 and cleartext HTTP/2. The
// gateway handler already carries CORS.
func setupServer(cfg *Config, services *Services) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           h2c.NewHandler(services.Gateway.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
