// File: internal/network/client.go
package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/attendant/internal/config"
)

// Defaults used when a ClientConfig leaves a field zero.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 20 * time.Second
	DefaultRequestTimeout        = 30 * time.Second

	// A presence run talks to one host; a small pool is plenty.
	DefaultMaxIdleConns        = 4
	DefaultMaxIdleConnsPerHost = 2
	DefaultIdleConnTimeout     = 90 * time.Second

	// DefaultMaxRedirects bounds redirect chains (login pages bounce through several).
	DefaultMaxRedirects = 10
)

// SecureMinTLSVersion defines the lowest TLS version considered secure by default.
const SecureMinTLSVersion = tls.VersionTLS12

// ClientConfig holds the settings for the portal HTTP client.
type ClientConfig struct {
	// Security
	InsecureSkipVerify bool
	TLSConfig          *tls.Config

	// Timeouts
	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	// Connection pool
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Proxy
	ProxyURL *url.URL

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// State
	CookieJar http.CookieJar

	Logger *zap.Logger
}

// NewDefaultClientConfig returns a config with secure defaults and an in-memory cookie jar.
func NewDefaultClientConfig() *ClientConfig {
	// cookiejar.New only errors on invalid options.
	jar, _ := cookiejar.New(nil)

	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		DialTimeout:           DefaultDialTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		CookieJar:             jar,
		Logger:                zap.NewNop(),
	}
}

// ClientConfigFromConfig maps the network section of the application config onto a ClientConfig.
func ClientConfigFromConfig(cfg config.NetworkConfig, jar http.CookieJar, logger *zap.Logger) (*ClientConfig, error) {
	cc := NewDefaultClientConfig()
	cc.InsecureSkipVerify = cfg.InsecureSkipVerify
	cc.RequestsPerSecond = cfg.RequestsPerSecond
	cc.Burst = cfg.Burst

	if cfg.Timeout > 0 {
		cc.RequestTimeout = cfg.Timeout
	}
	if cfg.DialTimeout > 0 {
		cc.DialTimeout = cfg.DialTimeout
	}
	if cfg.TLSHandshakeTimeout > 0 {
		cc.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
	}
	if cfg.ResponseHeaderTimeout > 0 {
		cc.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.ProxyURL, err)
		}
		cc.ProxyURL = u
	}
	if jar != nil {
		cc.CookieJar = jar
	}
	if logger != nil {
		cc.Logger = logger
	}
	return cc, nil
}

// NewHTTPTransport creates and configures the base http.Transport.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: DefaultKeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       configureTLS(cfg),
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		// CompressionMiddleware handles gzip, deflate and brotli itself.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}

	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return transport
}

// NewClient creates the http.Client used for every portal request.
// Redirects are followed, up to DefaultMaxRedirects hops.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}

	var rt http.RoundTripper = NewCompressionMiddleware(NewHTTPTransport(cfg))
	if cfg.RequestsPerSecond > 0 {
		rt = NewRateLimitedTransport(rt, cfg.RequestsPerSecond, cfg.Burst)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.RequestTimeout,
		Jar:       cfg.CookieJar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= DefaultMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", DefaultMaxRedirects)
			}
			return nil
		},
	}
}

// configureTLS builds the TLS configuration, merging strong defaults into any caller-supplied config.
func configureTLS(cfg *ClientConfig) *tls.Config {
	var tlsConfig *tls.Config
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{}
	}

	if len(tlsConfig.CurvePreferences) == 0 {
		tlsConfig.CurvePreferences = []tls.CurveID{tls.X25519, tls.CurveP256}
	}
	if len(tlsConfig.CipherSuites) == 0 {
		// TLS 1.2 suites with forward secrecy. TLS 1.3 suites are not configurable.
		tlsConfig.CipherSuites = []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		}
	}
	if tlsConfig.ClientSessionCache == nil {
		tlsConfig.ClientSessionCache = tls.NewLRUClientSessionCache(16)
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"h2", "http/1.1"}
	}
	if tlsConfig.MinVersion < SecureMinTLSVersion {
		tlsConfig.MinVersion = SecureMinTLSVersion
	}

	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
	if cfg.InsecureSkipVerify {
		cfg.Logger.Warn("TLS certificate verification is disabled. Credentials sent to the portal can be intercepted.")
	}
	return tlsConfig
}

// RateLimitedTransport paces requests through a token bucket.
type RateLimitedTransport struct {
	Transport http.RoundTripper
	limiter   *rate.Limiter
}

// NewRateLimitedTransport wraps next so that at most rps requests per second leave the process.
func NewRateLimitedTransport(next http.RoundTripper, rps float64, burst int) *RateLimitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedTransport{
		Transport: next,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// RoundTrip waits for a token, honoring the request context, then forwards the request.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return t.Transport.RoundTrip(req)
}
