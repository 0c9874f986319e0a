// Package transport builds the HTTP client used for metadata downloads.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultUserAgent = "fwupd-client"

	dialTimeout = 30 * time.Second
	keepAlive   = 30 * time.Second
)

type Config struct {
	// Timeout bounds a whole request including the body read. Zero means
	// DefaultTimeout.
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
}

// NewHTTPClient returns a client that honours proxy environment variables,
// requires TLS 1.2 or newer and negotiates HTTP/2 when the server offers it.
func NewHTTPClient(cfg Config) (*http.Client, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          10,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &userAgent{
			agent: cfg.UserAgent,
			next:  t,
		},
	}, nil
}

type userAgent struct {
	agent string
	next  http.RoundTripper
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.agent)
	return u.next.RoundTrip(req)
}
