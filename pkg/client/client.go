package client

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one HTTP exchange when no explicit timeout is
// configured.
const DefaultTimeout = 180 * time.Second

// Compression selects the request body encoding.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZlib Compression = "zlib"
	CompressionGzip Compression = "gzip"
)

// Options configures the base HTTP client shared by the protocol clients.
type Options struct {
	Logger    zerolog.Logger
	UserAgent string
	Timeout   time.Duration
	Proxy     string

	User     string
	Password string

	OAuthClientID     string
	OAuthClientSecret string

	NoCompression bool

	NoSSLCheck      bool
	CACertFile      string
	CACertDir       string
	SSLCertFile     string
	SSLKeyFile      string
	SSLFingerprints []string
}

// Client is the transport layer under the protocol clients: TLS settings,
// proxy, compression, and basic/bearer retry hooks.
type Client struct {
	http        *http.Client
	logger      zerolog.Logger
	opts        Options
	compression Compression
}

// New builds a client from options. TLS material is loaded eagerly so a
// misconfiguration surfaces at startup, not on first contact.
func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		Proxy:           http.ProxyFromEnvironment,
	}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	compression := CompressionZlib
	if opts.NoCompression {
		compression = CompressionNone
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger:      opts.Logger.With().Str("component", "client").Logger(),
		opts:        opts,
		compression: compression,
	}, nil
}

func buildTLSConfig(opts Options) (*tls.Config, error) {
	config := &tls.Config{}

	if opts.NoSSLCheck {
		config.InsecureSkipVerify = true
	}

	if opts.CACertFile != "" || opts.CACertDir != "" {
		pool := x509.NewCertPool()
		if opts.CACertFile != "" {
			pem, err := os.ReadFile(opts.CACertFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate: %w", err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificate found in %s", opts.CACertFile)
			}
		}
		if opts.CACertDir != "" {
			entries, err := os.ReadDir(opts.CACertDir)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA directory: %w", err)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				pem, err := os.ReadFile(filepath.Join(opts.CACertDir, entry.Name()))
				if err != nil {
					continue
				}
				pool.AppendCertsFromPEM(pem)
			}
		}
		config.RootCAs = pool
	}

	if opts.SSLCertFile != "" {
		keyFile := opts.SSLKeyFile
		if keyFile == "" {
			keyFile = opts.SSLCertFile
		}
		cert, err := tls.LoadX509KeyPair(opts.SSLCertFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if len(opts.SSLFingerprints) > 0 {
		pinned := make(map[string]bool, len(opts.SSLFingerprints))
		for _, fp := range opts.SSLFingerprints {
			pinned[normalizeFingerprint(fp)] = true
		}
		// Pinning replaces chain verification entirely.
		config.InsecureSkipVerify = true
		config.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			for _, raw := range rawCerts {
				sum := sha256.Sum256(raw)
				if pinned[hex.EncodeToString(sum[:])] {
					return nil
				}
			}
			return fmt.Errorf("no peer certificate matches a pinned fingerprint")
		}
	}

	return config, nil
}

func normalizeFingerprint(fp string) string {
	fp = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(fp)), "sha256:")
	return strings.ReplaceAll(fp, ":", "")
}

// compress encodes a request body per the negotiated compression and returns
// the matching Content-Type.
func (c *Client) compress(body []byte, baseType string) ([]byte, string, error) {
	switch c.compression {
	case CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "application/x-compress-zlib", nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "application/x-compress-gzip", nil
	default:
		return body, baseType, nil
	}
}

// decompress decodes a response body according to its declared Content-Type.
func decompress(body []byte, contentType string) ([]byte, error) {
	switch {
	case strings.Contains(contentType, "x-compress-zlib"):
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case strings.Contains(contentType, "x-compress-gzip"), strings.Contains(contentType, "gzip"):
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return body, nil
	}
}

// do runs one HTTP exchange and returns the decompressed body. Authentication
// retries are the caller's concern.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("communication failure: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response: %w", err)
	}
	body, err := decompress(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return resp, nil, fmt.Errorf("failed to decompress response: %w", err)
	}
	return resp, body, nil
}

// excerpt truncates a payload for log lines.
func excerpt(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
