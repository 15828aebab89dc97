package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Option configures a Client.
type Option interface {
	apply(*Client)
}

type optionFunc func(c *Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	})
}

// WithTimeout bounds every request, 15s by default.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	})
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return optionFunc(func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	})
}
