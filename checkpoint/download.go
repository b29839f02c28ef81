package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pdevine/tensor"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseURL is where published checkpoints live.
	DefaultBaseURL = "https://models.umencoder.org/v1"

	numDownloadParts   = 8
	minPartSize        = 8 << 20
	maxDownloadRetries = 3
	maxLoadAttempts    = 3
	defaultRetryDelay  = 2 * time.Second
)

// Client downloads and loads pretrained checkpoints into a local
// directory.
type Client struct {
	BaseURL    string
	Dir        string
	HTTPClient *http.Client

	// RetryDelay spaces out retries after a failed part or a corrupt
	// checkpoint.
	RetryDelay time.Duration

	// load parses a checkpoint file. Tests swap it out.
	load func(string) (map[string]*tensor.Dense, error)
}

// NewClient builds a client caching checkpoints under dir.
func NewClient(dir string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		Dir:        dir,
		HTTPClient: http.DefaultClient,
		RetryDelay: defaultRetryDelay,
		load:       LoadStateDict,
	}
}

// Pull ensures the named checkpoint exists locally and returns its
// path. Already-downloaded checkpoints are reused as-is.
func (c *Client) Pull(ctx context.Context, name string) (string, error) {
	spec, err := Resolve(name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoint directory: %w", err)
	}

	path := filepath.Join(c.Dir, spec.File)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := c.download(ctx, spec, path); err != nil {
		return "", fmt.Errorf("pulling %s: %w", name, err)
	}
	return path, nil
}

// Load pulls and parses the named checkpoint. A checkpoint that fails
// to parse is treated as corrupt: the local file is removed and
// re-downloaded, up to a bounded number of attempts. Half-precision
// checkpoints are rounded back through f16 after loading.
func (c *Client) Load(ctx context.Context, name string) (map[string]*tensor.Dense, error) {
	spec, err := Resolve(name)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		if attempt > 0 {
			slog.Warn("checkpoint corrupt, re-downloading", "model", name, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}

		path, err := c.Pull(ctx, name)
		if err != nil {
			return nil, err
		}

		weights, err := c.load(path)
		if err == nil {
			if spec.Half {
				QuantizeHalf(weights)
			}
			return weights, nil
		}
		lastErr = err

		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing corrupt checkpoint: %w", err)
		}
	}

	return nil, fmt.Errorf("loading %s failed after %d attempts: %w", name, maxLoadAttempts, lastErr)
}

func (c *Client) download(ctx context.Context, spec Spec, path string) error {
	url := c.BaseURL + "/" + spec.File
	partial := fmt.Sprintf("%s-partial-%s", path, uuid.NewString())
	defer os.Remove(partial)

	size, ranged, err := c.probe(ctx, url)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(partial, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if !ranged || size < minPartSize {
		if err := c.downloadChunk(ctx, url, io.NewOffsetWriter(file, 0), 0, -1); err != nil {
			return err
		}
	} else {
		partSize := size / numDownloadParts
		g, inner := errgroup.WithContext(ctx)
		g.SetLimit(numDownloadParts)
		for i := 0; i < numDownloadParts; i++ {
			start := int64(i) * partSize
			end := start + partSize - 1
			if i == numDownloadParts-1 {
				end = size - 1
			}
			g.Go(func() error {
				w := io.NewOffsetWriter(file, start)
				var err error
				for try := 0; try < maxDownloadRetries; try++ {
					if err = c.downloadChunk(inner, url, w, start, end); err == nil {
						return nil
					}
					slog.Info("checkpoint part failed, retrying", "url", url, "start", start, "try", try, "error", err)
					select {
					case <-inner.Done():
						return inner.Err()
					case <-time.After(c.RetryDelay):
					}
				}
				return fmt.Errorf("part at %d failed after %d attempts: %w", start, maxDownloadRetries, err)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(partial, path)
}

// probe asks the server for the checkpoint size and range support.
func (c *Client) probe(ctx context.Context, url string) (size int64, ranged bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}

	size, _ = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	ranged = resp.Header.Get("Accept-Ranges") == "bytes"
	return size, ranged, nil
}

// downloadChunk streams [start, end] of url into w. end < 0 means the
// whole body. A ranged request must be answered with 206: a server
// that ignores Range would send the full body to every part's offset.
func (c *Client) downloadChunk(ctx context.Context, url string, w io.Writer, start, end int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	want := http.StatusOK
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		want = http.StatusPartialContent
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}

	_, err = io.Copy(w, resp.Body)
	return err
}
