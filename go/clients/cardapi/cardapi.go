// Package cardapi is a client for the card catalogue REST service.
package cardapi

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/mcdev12/duelpad/go/clients"
)

// Config tunes the client. Zero values fall back to defaults.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit rate.Limit
	Burst     int
}

type Client struct {
	*clients.BaseClient
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	client := &Client{BaseClient: clients.NewBaseClient(cfg.BaseURL)}
	client.SetHeader(AcceptHeader, JSONContentType)
	client.SetTimeout(cfg.Timeout)
	client.SetRateLimit(cfg.RateLimit, cfg.Burst)
	return client
}
