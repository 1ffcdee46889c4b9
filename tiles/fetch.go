package tiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/geogenius/rda/rda"
)

// MaxRetries is the default number of attempts made for one tile.
const MaxRetries = 5

const (
	DefaultWorkers    = 8
	DefaultMinBackoff = 100 * time.Millisecond
	DefaultMaxBackoff = 5 * time.Second
	DefaultTimeout    = 60 * time.Second
)

// Config holds the tunables of a Fetcher.  Zero values select the defaults.
type Config struct {
	MaxRetries   int
	Workers      int
	CacheEntries int
	RateLimit    float64 // requests per second, 0 for unlimited
	TempDir      string
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Timeout      time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.MinBackoff)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// TransportFunc creates a fresh transport for a worker.
type TransportFunc func() http.RoundTripper

// DefaultTransport clones the standard library transport so no connection pool is
// shared between workers.
func DefaultTransport() http.RoundTripper {
	return http.DefaultTransport.(*http.Transport).Clone()
}

// Fetcher retrieves and decodes tiles, keeping successful results in a shared LRU.
type Fetcher struct {
	cfg       Config
	decoder   Decoder
	transport TransportFunc
	cache     *tileCache
	flight    singleflight.Group
	limiter   *rate.Limiter
	pool      sync.Pool
}

// NewFetcher returns a fetcher.  A nil transport function uses DefaultTransport and a
// nil decoder uses ImageDecoder.
func NewFetcher(cfg Config, transport TransportFunc, dec Decoder) *Fetcher {
	cfg.setDefaults()
	if transport == nil {
		transport = DefaultTransport
	}
	if dec == nil {
		dec = ImageDecoder{}
	}
	f := &Fetcher{
		cfg:       cfg,
		decoder:   dec,
		transport: transport,
		cache:     newTileCache(cfg.CacheEntries),
	}
	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Workers)
	}
	f.pool.New = func() interface{} { return f.NewWorker() }
	return f
}

// Workers returns the configured concurrency.
func (f *Fetcher) Workers() int {
	return f.cfg.Workers
}

// Stats returns tile cache statistics.
func (f *Fetcher) Stats() CacheStats {
	return f.cache.stats()
}

// Forget drops one URL from the tile cache.
func (f *Fetcher) Forget(url string) {
	f.cache.remove(url)
}

// ClearCache empties the tile cache.
func (f *Fetcher) ClearCache() {
	f.cache.clear()
}

// Fetch returns the tile at url.  Concurrent requests for the same URL share one
// retrieval run by a pooled worker.  The shared retrieval is not tied to any single
// caller's context, so a caller giving up only abandons its own wait.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*rda.Array, error) {
	if arr, found := f.cache.get(url); found {
		return arr, nil
	}
	ch := f.flight.DoChan(url, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.retrievalTimeout())
		defer cancel()
		w := f.pool.Get().(*Worker)
		defer f.pool.Put(w)
		return w.Fetch(fctx, url)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for tile %s: %w", url, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rda.Array), nil
	}
}

// retrievalTimeout bounds one shared retrieval: every attempt plus the longest
// backoff between attempts.
func (f *Fetcher) retrievalTimeout() time.Duration {
	n := time.Duration(f.cfg.MaxRetries)
	return n*f.cfg.Timeout + n*f.cfg.MaxBackoff
}

// FetchAll retrieves every URL with at most Workers requests in flight.  The i-th
// result corresponds to the i-th URL.  The first failure cancels the remaining
// fetches.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]*rda.Array, error) {
	out := make([]*rda.Array, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for i, url := range urls {
		g.Go(func() error {
			arr, err := f.Fetch(gctx, url)
			if err != nil {
				return err
			}
			out[i] = arr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Worker is a fetch context owning its own HTTP transport.  A worker must not be
// used from more than one goroutine at a time.
type Worker struct {
	f      *Fetcher
	client *http.Client
	resets int
}

// NewWorker returns a worker with a new transport.
func (f *Fetcher) NewWorker() *Worker {
	w := &Worker{f: f}
	w.client = &http.Client{Transport: f.transport(), Timeout: f.cfg.Timeout}
	return w
}

// resetTransport discards the worker's transport and creates a new one.
func (w *Worker) resetTransport() {
	w.client.CloseIdleConnections()
	w.client = &http.Client{Transport: w.f.transport(), Timeout: w.f.cfg.Timeout}
	w.resets++
}

// Fetch returns the cached tile for url or retrieves it with this worker's
// transport.  Successful results are added to the shared cache.
func (w *Worker) Fetch(ctx context.Context, url string) (*rda.Array, error) {
	if arr, found := w.f.cache.get(url); found {
		return arr, nil
	}
	arr, err := w.fetchUncached(ctx, url)
	if err != nil {
		return nil, err
	}
	w.f.cache.add(url, arr)
	return arr, nil
}

func (w *Worker) fetchUncached(ctx context.Context, url string) (*rda.Array, error) {
	b := &backoff.Backoff{
		Min:    w.f.cfg.MinBackoff,
		Max:    w.f.cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	var lastStatus, attempts int
	var lastErr error
	for attempts < w.f.cfg.MaxRetries {
		if attempts > 0 {
			select {
			case <-ctx.Done():
				return nil, &rda.FetchError{URL: url, Status: lastStatus, Attempts: attempts, Err: ctx.Err()}
			case <-time.After(b.Duration()):
			}
		}
		if w.f.limiter != nil {
			if err := w.f.limiter.Wait(ctx); err != nil {
				return nil, &rda.FetchError{URL: url, Status: lastStatus, Attempts: attempts, Err: err}
			}
		}
		attempts++
		arr, status, err := w.attempt(ctx, url)
		if err == nil {
			return arr, nil
		}
		lastStatus, lastErr = status, err
		rda.Debugf("attempt %d of %d for %s failed: %v\n", attempts, w.f.cfg.MaxRetries, url, err)
		w.resetTransport()
		if ctx.Err() != nil {
			break
		}
	}
	rda.Errorf("giving up on %s after %d attempts: %v\n", url, attempts, lastErr)
	return nil, &rda.FetchError{URL: url, Status: lastStatus, Attempts: attempts, Err: lastErr}
}

// attempt performs a single request, spooling the body to a temporary file that is
// removed before returning.
func (w *Worker) attempt(ctx context.Context, url string) (*rda.Array, int, error) {
	timedLog := rda.NewTimeLog()
	f, cleanup, err := rda.TempFile(w.f.cfg.TempDir, "rdatile-*.tif")
	if err != nil {
		return nil, 0, err
	}
	defer cleanup()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("tile request %s returned status %d", url, resp.StatusCode)
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading tile body: %v", err)
	}
	if n == 0 {
		return nil, resp.StatusCode, fmt.Errorf("tile request %s returned an empty body", url)
	}
	arr, err := w.f.decoder.Decode(f, n)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding tile %s: %v", url, err)
	}
	timedLog.Debugf("GET %s returned %s as %s", url, humanize.Bytes(uint64(n)), arr)
	return arr, resp.StatusCode, nil
}
