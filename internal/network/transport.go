package network

import (
	"net"
	"net/http"
	"time"

	"offline_coordinator/internal/breaker"
	"offline_coordinator/internal/config"
)

const (
	defaultDialTimeout           = 2 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultFetchTimeout          = 15 * time.Second
	defaultMaxIdleConns          = 256
	defaultMaxIdleConnsPerHost   = 64
)

type Options struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	FetchTimeout          time.Duration
	MaxObjectBytes        int64
	Breaker               breaker.Config
}

func OptionsFromConfig(cfg config.NetworkConfig) Options {
	return Options{
		DialTimeout:           millis(cfg.DialTimeoutMS),
		ResponseHeaderTimeout: millis(cfg.ResponseHeaderTimeoutMS),
		FetchTimeout:          millis(cfg.FetchTimeoutMS),
		MaxObjectBytes:        cfg.MaxObjectBytes,
		Breaker: breaker.Config{
			FailureRatePercent: cfg.Breaker.FailureRatePercent,
			MinimumRequests:    cfg.Breaker.MinimumRequests,
			Window:             millis(cfg.Breaker.WindowMS),
			OpenFor:            millis(cfg.Breaker.OpenMS),
			HalfOpenProbes:     cfg.Breaker.HalfOpenProbes,
		},
	}
}

func normalizeOptions(opts Options) Options {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.MaxObjectBytes <= 0 {
		opts.MaxObjectBytes = defaultMaxObjectBytes
	}
	return opts
}

func newTransport(opts Options) *http.Transport {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		IdleConnTimeout:       defaultIdleConnTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
