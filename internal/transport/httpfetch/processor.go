/**
 * httpfetch — an HTTP(S) transport processor (component C2), the
 * "generic HTTP background session" implementation the engine requires.
 *
 * Downloads to a temp file and promotes on success, so a crash mid-transfer
 * never leaves a partial file at the final path. Built on
 * hashicorp/go-retryablehttp for the underlying client and x/time/rate for
 * request pacing.
 *
 * Author: fetchkit Team
 */

package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/VatsalSy/fetchkit/internal/errors"
	"github.com/VatsalSy/fetchkit/internal/logger"
	"github.com/VatsalSy/fetchkit/internal/queue"
)

// Handle is the queue.Item.Handle shape this processor expects: a plain
// URL to GET, optionally with a byte offset to resume from.
type Handle struct {
	URL         string
	ResumeBytes int64
}

// Config controls the HTTP processor's behavior.
type Config struct {
	TempDir         string
	RequestsPerSec  float64
	Burst           int
	MaxRetries      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TempDir:        os.TempDir(),
		RequestsPerSec: 10,
		Burst:          5,
		MaxRetries:     4,
	}
}

// Processor is the HTTP-based implementation of queue.Processor.
type Processor struct {
	client   *retryablehttp.Client
	limiter  *rate.Limiter
	tempDir  string
	logger   *logger.Logger
	delegate queue.ProcessorDelegate

	active atomic.Bool
	mu     sync.Mutex
}

// New creates an HTTP fetch processor.
func New(cfg Config, log *logger.Logger) (*Processor, error) {
	if log == nil {
		log = logger.Global()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.Logger = nil

	p := &Processor{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		tempDir: cfg.TempDir,
		logger:  log,
	}
	p.active.Store(true)
	return p, nil
}

// SetDelegate implements queue.Processor.
func (p *Processor) SetDelegate(d queue.ProcessorDelegate) { p.delegate = d }

// CanProcess implements queue.Processor: accepts any item whose handle is
// an http(s) Handle.
func (p *Processor) CanProcess(it *queue.Item) bool {
	h, ok := it.Handle.(Handle)
	if !ok {
		return false
	}
	u, err := url.Parse(h.URL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// IsActive implements queue.Processor.
func (p *Processor) IsActive() bool { return p.active.Load() }

// Pause implements queue.Processor.
func (p *Processor) Pause() { p.active.Store(false) }

// Resume implements queue.Processor.
func (p *Processor) Resume() { p.active.Store(true) }

// EnqueuePending implements queue.Processor: this processor never keeps
// out-of-band state across process restarts, so there is nothing to
// reattach.
func (p *Processor) EnqueuePending(cb func(*queue.Item)) error { return nil }

// Process implements queue.Processor.
func (p *Processor) Process(ctx context.Context, it *queue.Item) error {
	h, ok := it.Handle.(Handle)
	if !ok {
		return errors.New(errors.ErrorTypeNoProcessor, "httpfetch.Process", it.ID, fmt.Errorf("unsupported handle type"))
	}

	p.delegate.Began(it)

	if err := p.limiter.Wait(ctx); err != nil {
		p.delegate.Errored(it, errors.New(errors.ErrorTypeCancelled, "httpfetch.Process", h.URL, err))
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		p.delegate.Errored(it, errors.New(errors.ErrorTypePermanentTransport, "httpfetch.Process", h.URL, err))
		return nil
	}
	if h.ResumeBytes > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", h.ResumeBytes))
	}

	p.delegate.StartedTransfer(it)

	resp, err := p.client.Do(req)
	if err != nil {
		p.delegate.Errored(it, classifyHTTPErr(it.ID, h.URL, err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		kind := errors.ErrorTypeTransientTransport
		if resp.StatusCode < 500 {
			kind = errors.ErrorTypePermanentTransport
		}
		p.delegate.Errored(it, errors.New(kind, "httpfetch.Process", h.URL, fmt.Errorf("unexpected status %d", resp.StatusCode)))
		return nil
	}

	tempPath := filepath.Join(p.tempDir, fmt.Sprintf("%s.part", it.ID))
	flags := os.O_CREATE | os.O_WRONLY
	if h.ResumeBytes > 0 && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(tempPath, flags, 0o640)
	if err != nil {
		p.delegate.Errored(it, errors.New(errors.ErrorTypeFilesystem, "httpfetch.Process", tempPath, err))
		return nil
	}

	total := resp.ContentLength
	if h.ResumeBytes > 0 {
		total += h.ResumeBytes
	}
	downloaded := h.ResumeBytes
	counter := &countingReader{r: resp.Body, onRead: func(n int) {
		downloaded += int64(n)
		p.delegate.TransferredData(it, downloaded, total)
	}}

	_, copyErr := io.Copy(out, counter)
	closeErr := out.Close()

	if copyErr != nil {
		p.delegate.Errored(it, classifyHTTPErr(it.ID, h.URL, copyErr))
		return nil
	}
	if closeErr != nil {
		p.delegate.Errored(it, errors.New(errors.ErrorTypeFilesystem, "httpfetch.Process", tempPath, closeErr))
		return nil
	}

	p.delegate.FinishedTransfer(it, tempPath)
	p.delegate.Finished(it)
	return nil
}

func classifyHTTPErr(id, url string, err error) error {
	if strings.Contains(err.Error(), "context canceled") {
		return errors.New(errors.ErrorTypeCancelled, "httpfetch.Process", url, err)
	}
	return errors.New(errors.Classify(err), "httpfetch.Process", url, err)
}

// countingReader wraps an io.Reader, invoking onRead after every Read call
// that returns data, driving transferred_data progress notifications.
type countingReader struct {
	r      io.Reader
	onRead func(n int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.onRead != nil {
		c.onRead(n)
	}
	return n, err
}
