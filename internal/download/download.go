// Package download fetches remote resources (avatars, banners) once and keeps
// them as files in a local cache directory keyed by URL.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/util"
)

var (
	// ErrBlockedURL is returned for URLs that are not public http(s) resources.
	ErrBlockedURL = errors.New("download: blocked url")
	// ErrTooLarge is returned when a resource exceeds the size limit.
	ErrTooLarge = errors.New("download: resource too large")
)

const (
	DefaultMaxBytes = 5 << 20
	DefaultTimeout  = 10 * time.Second
)

// Options configures a Cache.
type Options struct {
	Dir          string
	MaxBytes     int64
	Timeout      time.Duration
	AllowPrivate bool // permit loopback/internal hosts (tests, local setups)
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Cache downloads resources on demand. Concurrent requests for the same URL
// share one download.
type Cache struct {
	dir          string
	maxBytes     int64
	allowPrivate bool
	client       *http.Client
	group        singleflight.Group
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates the cache directory if needed.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("download: cache dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("download: create cache dir: %w", err)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Cache{
		dir:          opts.Dir,
		maxBytes:     opts.MaxBytes,
		allowPrivate: opts.AllowPrivate,
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return http.ErrUseLastResponse
				}
				if !opts.AllowPrivate && util.IsPrivateHost(req.URL.Hostname()) {
					return ErrBlockedURL
				}
				return nil
			},
		},
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}, nil
}

// Path returns where the resource for rawURL lives (or would live).
func (c *Cache) Path(rawURL string) string {
	hash := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, hex.EncodeToString(hash[:]))
}

// Cached reports the local path of rawURL if it was downloaded before.
func (c *Cache) Cached(rawURL string) (string, bool) {
	path := c.Path(rawURL)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// FetchOrGetCached returns the local path of rawURL, downloading it first if
// it is not cached yet.
func (c *Cache) FetchOrGetCached(ctx context.Context, rawURL string) (string, error) {
	if path, ok := c.Cached(rawURL); ok {
		c.metrics.IncCacheHit()
		return path, nil
	}
	c.metrics.IncCacheMiss()

	// The flight outlives any one caller; the client timeout bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(rawURL, func() (interface{}, error) {
		// a concurrent call may have finished between Cached and DoChan
		if path, ok := c.Cached(rawURL); ok {
			return path, nil
		}
		path, err := c.download(flightCtx, rawURL)
		c.metrics.IncDownload(err == nil)
		return path, err
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("singleflight: shared download", "url", rawURL)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) download(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", ErrBlockedURL
	}
	if !c.allowPrivate && util.IsPrivateHost(parsed.Hostname()) {
		return "", ErrBlockedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("download: build request: %w", err)
	}
	req.Header.Set("User-Agent", "NostrLanes/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download: get %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		return "", ErrTooLarge
	}

	tmp, err := os.CreateTemp(c.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("download: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, c.maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", fmt.Errorf("download: read body: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("download: write file: %w", closeErr)
	}
	if n > c.maxBytes {
		return "", ErrTooLarge
	}

	path := c.Path(rawURL)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("download: store file: %w", err)
	}
	c.logger.Debug("resource downloaded", "url", rawURL, "bytes", n)
	return path, nil
}
