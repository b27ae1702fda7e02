// Package transport builds the HTTP clients the exchange adapters share.
package transport

import (
	"net"
	"net/http"
	"time"

	"cryptocsv/config"
)

const userAgent = "cryptocsv/1.0"

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// NewTransport returns a pooled transport. Outbound connections are bound to
// localIP when it parses as an address.
func NewTransport(pool config.ConnectionPoolConfig, localIP string) *http.Transport {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
		DisableCompression:  false,
	}

	if localIP != "" {
		if ip := net.ParseIP(localIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}
	return transport
}

// NewHTTPClient wraps NewTransport with a request timeout and user agent.
func NewHTTPClient(pool config.ConnectionPoolConfig, timeout time.Duration, localIP string) *http.Client {
	return &http.Client{
		Transport: userAgentTransport{agent: userAgent, base: NewTransport(pool, localIP)},
		Timeout:   timeout,
	}
}
