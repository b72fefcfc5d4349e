package bytesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPConfig configures an HTTP range-request backend.
type HTTPConfig struct {
	// Client performs the requests. A client with a 30s timeout is used when nil.
	Client *http.Client
	// MaxRetries is the number of extra attempts per request after a
	// transient failure (network error or 5xx).
	MaxRetries int
	// Backoff is the minimum spacing between retries.
	Backoff time.Duration
	// OnRetry, when set, is called before every retry.
	OnRetry func(url string, attempt int, err error)
}

const (
	defaultHTTPRetries = 3
	defaultHTTPBackoff = 500 * time.Millisecond
)

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable")

type httpBackend struct {
	ctx     context.Context
	url     string
	client  *http.Client
	owned   bool
	retries int
	limiter *rate.Limiter
	onRetry func(string, int, error)
	size    int64
}

// OpenHTTP returns a ByteSource reading url with HTTP range requests. The
// total size is fetched once up front. ctx bounds every later request,
// including the retries.
func OpenHTTP(ctx context.Context, url string, cfg HTTPConfig, opts ...Option) (*Reader, error) {
	b := &httpBackend{
		ctx:     ctx,
		url:     url,
		client:  cfg.Client,
		retries: cfg.MaxRetries,
		onRetry: cfg.OnRetry,
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: 30 * time.Second}
		b.owned = true
	}
	if b.retries <= 0 {
		b.retries = defaultHTTPRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultHTTPBackoff
	}
	// The initial token is spent so that the first retry already waits.
	b.limiter = rate.NewLimiter(rate.Every(backoff), 1)
	b.limiter.Allow()

	size, err := b.fetchSize()
	if err != nil {
		b.closeIdle()
		return nil, err
	}
	b.size = size
	return New(url, b, opts...), nil
}

func (b *httpBackend) Size() (int64, error) { return b.size, nil }

func (b *httpBackend) Close() error {
	b.closeIdle()
	return nil
}

func (b *httpBackend) closeIdle() {
	if b.owned {
		b.client.CloseIdleConnections()
	}
}

func (b *httpBackend) ReadAt(p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= b.size {
		end = b.size - 1
	}
	var n int
	err := b.retry(func() error {
		var err error
		n, err = b.fetchRange(p, off, end)
		return err
	})
	if err != nil {
		return n, err
	}
	if off+int64(n) >= b.size {
		return n, io.EOF
	}
	return n, nil
}

// retry runs fn until it succeeds, fails permanently, or runs out of
// attempts. Retries are spaced by the backend's limiter, which is shared by
// all requests of the backend.
func (b *httpBackend) retry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			if b.onRetry != nil {
				b.onRetry(b.url, attempt, err)
			}
			if werr := b.limiter.Wait(b.ctx); werr != nil {
				return fmt.Errorf("%w (giving up: %w)", err, werr)
			}
		}
		err = fn()
		if err == nil || !errors.Is(err, errRetryable) {
			return err
		}
	}
	return err
}

func (b *httpBackend) fetchRange(p []byte, off, end int64) (int, error) {
	req, err := http.NewRequestWithContext(b.ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w: %w", b.url, errRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: unexpected status code %d from %s", errRetryable, resp.StatusCode, b.url)
	default:
		return 0, fmt.Errorf("unexpected status code %d from %s (range requests unsupported?)", resp.StatusCode, b.url)
	}

	want := int(end - off + 1)
	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("reading response body: %w: %w", errRetryable, err)
	}
	return n, nil
}

func (b *httpBackend) fetchSize() (int64, error) {
	var size int64
	err := b.retry(func() error {
		req, err := http.NewRequestWithContext(b.ctx, http.MethodHead, b.url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetching %s: %w: %w", b.url, errRetryable, err)
		}
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: status code 404 from %s", ErrNotFound, b.url)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: unexpected status code %d from %s", errRetryable, resp.StatusCode, b.url)
		default:
			return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, b.url)
		}
		if resp.ContentLength >= 0 {
			size = resp.ContentLength
			return nil
		}
		if s, ok := parseContentRangeSize(resp.Header.Get("Content-Range")); ok {
			size = s
			return nil
		}
		return fmt.Errorf("no content length from %s", b.url)
	})
	return size, err
}

// parseContentRangeSize extracts the total from "bytes a-b/total".
func parseContentRangeSize(v string) (int64, bool) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || i == len(v)-1 {
		return 0, false
	}
	n, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
