// ABOUTME: On-disk cache for cached audio assets
// ABOUTME: Downloads assets once per URL and serves later requests from disk
package assetcache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxBytes caps a single asset download
const DefaultMaxBytes = 64 << 20

// Config configures a Cache
type Config struct {
	Dir        string // defaults to <tmp>/resonate-tts-assets
	HTTPClient *http.Client
	MaxBytes   int64
}

// Cache fetches assets over HTTP and keeps them on disk. Local paths and
// file:// URLs are read directly and never copied.
type Cache struct {
	dir      string
	client   *http.Client
	maxBytes int64
	group    singleflight.Group
	logger   *log.Logger
}

// New creates a cache, creating its directory if needed
func New(config Config) (*Cache, error) {
	if config.Dir == "" {
		config.Dir = filepath.Join(os.TempDir(), "resonate-tts-assets")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{
		dir:      config.Dir,
		client:   config.HTTPClient,
		maxBytes: config.MaxBytes,
		logger:   log.WithPrefix("assets"),
	}, nil
}

// Dir returns the cache directory
func (c *Cache) Dir() string {
	return c.dir
}

// Fetch returns the asset bytes for rawURL
func (c *Cache) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New("empty asset url")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid asset url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "file":
		return os.ReadFile(u.Path)
	case "":
		return os.ReadFile(rawURL)
	default:
		return nil, fmt.Errorf("unsupported asset url scheme: %q", u.Scheme)
	}

	path, err := c.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Path returns where rawURL is cached
func (c *Cache) Path(rawURL string) string {
	hash := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, fmt.Sprintf("%x%s", hash[:8], getExtension(rawURL)))
}

// download fetches rawURL into the cache; concurrent calls share one request
func (c *Cache) download(ctx context.Context, rawURL string) (string, error) {
	cachePath := c.Path(rawURL)

	if _, err := os.Stat(cachePath); err == nil {
		c.logger.Debug("Asset cache hit", "path", cachePath)
		return cachePath, nil
	}

	v, err, shared := c.group.Do(cachePath, func() (any, error) {
		return cachePath, c.fetchToFile(ctx, rawURL, cachePath)
	})
	if shared {
		c.logger.Debug("Shared in-flight asset download", "url", rawURL)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) fetchToFile(ctx context.Context, rawURL, cachePath string) error {
	c.logger.Info("Downloading asset", "url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create asset request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset download failed: HTTP %d", resp.StatusCode)
	}

	// Write to a temp file so readers never see a partial asset
	tmp, err := os.CreateTemp(c.dir, "download-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, c.maxBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	if n > c.maxBytes {
		return fmt.Errorf("asset exceeds %d bytes", c.maxBytes)
	}

	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		return fmt.Errorf("failed to store asset: %w", err)
	}

	c.logger.Debug("Asset saved", "path", cachePath, "bytes", n)
	return nil
}

// getExtension extracts the file extension from a URL
func getExtension(rawURL string) string {
	base, _, _ := strings.Cut(rawURL, "?")
	ext := filepath.Ext(base)
	if ext == "" || strings.Contains(ext, "/") {
		return ".bin"
	}
	return ext
}

// Cleanup removes the cache directory
func (c *Cache) Cleanup() error {
	return os.RemoveAll(c.dir)
}
