package executable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/tobi-laa/embedded-valkey/internal/logging"
)

// CachedURL downloads an executable once and reuses the cached copy afterwards.
type CachedURL struct {
	URL       string
	CachePath string
	Log       *zap.SugaredLogger
	// RetryMax bounds how many times a failed download is retried.
	RetryMax int

	customizeRetryableClient func(*retryablehttp.Client)
}

type CachedURLOption func(c *CachedURL)

func WithDownloadLogger(l *zap.SugaredLogger) CachedURLOption {
	return func(c *CachedURL) {
		c.Log = l.Named("download")
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) CachedURLOption {
	return func(c *CachedURL) {
		c.customizeRetryableClient = f
	}
}

// NewCachedURL builds a provider that downloads url to cachePath if it isn't there yet.
func NewCachedURL(url, cachePath string, opts ...CachedURLOption) *CachedURL {
	c := &CachedURL{
		URL:       url,
		CachePath: cachePath,
		RetryMax:  4,
	}
	for _, o := range opts {
		o(c)
	}
	if c.Log == nil {
		c.Log = logging.Default("download")
	}
	return c
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func (c *CachedURL) Resolve(ctx context.Context) (string, error) {
	if st, err := os.Stat(c.CachePath); err == nil && st.Mode().IsRegular() {
		c.Log.Debugw("using cached executable", "Path", c.CachePath)
		return filepath.Abs(c.CachePath)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = c.RetryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = &logAdapter{SugaredLogger: c.Log}
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	resp, err := retryClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %q: %w", c.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("non-200 HTTP status code %d received when downloading %q", resp.StatusCode, c.URL)
	}

	err = os.MkdirAll(filepath.Dir(c.CachePath), 0o755)
	if err != nil {
		return "", fmt.Errorf("making cache dir: %w", err)
	}
	// CachePath only ever holds a complete download
	tmp, err := os.CreateTemp(filepath.Dir(c.CachePath), filepath.Base(c.CachePath)+".*.part")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("writing download: %w", err)
	}
	err = os.Chmod(tmp.Name(), 0o755)
	if err != nil {
		return "", fmt.Errorf("making download executable: %w", err)
	}
	err = os.Rename(tmp.Name(), c.CachePath)
	if err != nil {
		return "", fmt.Errorf("moving download into place: %w", err)
	}
	c.Log.Infow("downloaded executable", "URL", c.URL, "Path", c.CachePath)
	return filepath.Abs(c.CachePath)
}
