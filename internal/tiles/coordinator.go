package tiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultBatchSize      = 4
	DefaultBatchPacing    = 10 * time.Millisecond
)

// Config tunes a Coordinator. Zero values fall back to the defaults.
type Config struct {
	URLTemplates   map[Layer]string
	RequestTimeout time.Duration
	// FailureCooldown answers requests for a recently failed tile with the cached
	// failure instead of fetching again. Zero re-attempts every time.
	FailureCooldown time.Duration
	BatchSize       int
	BatchPacing     time.Duration
}

// Stats is a point-in-time view of coordinator activity.
type Stats struct {
	Fetches  int64 // network fetches started
	Hits     int64 // requests answered from a Loaded entry
	Joined   int64 // requests that attached to a fetch already in flight
	InFlight int
	Cached   int
}

// BatchReport summarises one PrefetchBatch call.
type BatchReport struct {
	Requested int
	Loaded    int
	Failed    int
	Cancelled int
	Groups    int
}

// flight is one outstanding network fetch. Waiters block on done; img and err are
// written exactly once before done is closed.
type flight struct {
	key    TileKey
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	img    *Image
	err    error
}

// Coordinator fetches tiles through a Fetcher, at most one fetch per key at a time,
// and records the outcome in its Store. Each instance owns an isolated cache.
type Coordinator struct {
	fetcher Fetcher
	store   *Store
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time

	// mu guards inflight and every store transition made on behalf of a flight.
	mu       sync.Mutex
	inflight map[TileKey]*flight

	fetches atomic.Int64
	hits    atomic.Int64
	joined  atomic.Int64
}

func NewCoordinator(fetcher Fetcher, cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.URLTemplates == nil {
		cfg.URLTemplates = DefaultURLTemplates()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPacing < 0 {
		cfg.BatchPacing = 0
	} else if cfg.BatchPacing == 0 {
		cfg.BatchPacing = DefaultBatchPacing
	}
	return &Coordinator{
		fetcher:  fetcher,
		store:    NewStore(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[TileKey]*flight),
	}
}

// URL derives the tile URL for key from the configured layer templates.
func (c *Coordinator) URL(key TileKey) (string, error) {
	return BuildURL(c.cfg.URLTemplates, key)
}

// RequestTile returns the image for key, fetching it if needed. Concurrent requests
// for the same key share one fetch. ctx bounds only this caller's wait: abandoning
// the wait leaves the fetch running for other waiters and for the cache.
func (c *Coordinator) RequestTile(ctx context.Context, key TileKey) (*Image, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	url, err := c.URL(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if e, ok := c.store.Get(key); ok {
		switch e.Status {
		case Loaded:
			c.mu.Unlock()
			c.hits.Add(1)
			return e.Image, nil
		case Failed:
			if c.cfg.FailureCooldown > 0 && c.now().Sub(e.UpdatedAt) < c.cfg.FailureCooldown {
				c.mu.Unlock()
				return nil, e.Err
			}
		}
	}

	f, ok := c.inflight[key]
	if ok {
		c.joined.Add(1)
	} else {
		f = c.startLocked(key, url)
	}
	c.mu.Unlock()

	select {
	case <-f.done:
		return f.img, f.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTileFetchCancelled, ctx.Err())
	}
}

func (c *Coordinator) startLocked(key TileKey, url string) *flight {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	f := &flight{
		key:    key,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.inflight[key] = f
	c.store.Put(key, Entry{Status: Pending, UpdatedAt: c.now()})
	c.fetches.Add(1)

	go c.run(f, url)
	return f
}

func (c *Coordinator) run(f *flight, url string) {
	img, err := c.fetcher.Fetch(f.ctx, url)
	if err == nil && img == nil {
		err = errors.New("fetcher returned no image")
	}

	c.mu.Lock()
	if c.inflight[f.key] != f {
		// settled by CancelAll while the fetch was running
		c.mu.Unlock()
		f.cancel()
		return
	}
	delete(c.inflight, f.key)

	if err != nil {
		f.err = &FetchError{Key: f.key, URL: url, Err: err}
		c.store.Put(f.key, Entry{Status: Failed, Err: f.err, UpdatedAt: c.now()})
	} else {
		f.img = img
		c.store.Put(f.key, Entry{Status: Loaded, Image: img, UpdatedAt: c.now()})
	}
	close(f.done)
	c.mu.Unlock()
	f.cancel()

	if err != nil {
		c.logger.Warn().Err(err).Str("tile", f.key.String()).Msg("Tile fetch failed")
	}
}

// CancelAll aborts every in-flight fetch. Waiters receive ErrTileFetchCancelled and the
// pending entries are removed so a later request starts clean. Loaded and Failed
// entries are untouched.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	n := c.cancelAllLocked()
	c.mu.Unlock()

	if n > 0 {
		c.logger.Debug().Int("count", n).Msg("Cancelled in-flight tile fetches")
	}
}

func (c *Coordinator) cancelAllLocked() int {
	n := len(c.inflight)
	for key, f := range c.inflight {
		f.cancel()
		f.err = ErrTileFetchCancelled
		close(f.done)
		c.store.Delete(key)
	}
	clear(c.inflight)
	return n
}

// ClearCache cancels every in-flight fetch and drops all cached entries.
func (c *Coordinator) ClearCache() {
	c.mu.Lock()
	n := c.cancelAllLocked()
	c.store.Clear()
	c.mu.Unlock()

	c.logger.Info().Int("cancelled", n).Msg("Tile cache cleared")
}

// Lookup returns the cached entry for key without triggering a fetch.
func (c *Coordinator) Lookup(key TileKey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(key)
}

// PrefetchBatch requests tiles of one layer in groups of Config.BatchSize. Each group
// runs concurrently and settles fully before the next one starts, with a short pause
// in between. Individual failures are counted, not returned; the only error is ctx
// being done before a group starts.
func (c *Coordinator) PrefetchBatch(ctx context.Context, layer Layer, tiles []Tile) (BatchReport, error) {
	report := BatchReport{Requested: len(tiles)}
	size := c.cfg.BatchSize

	for start := 0; start < len(tiles); start += size {
		if start > 0 && c.cfg.BatchPacing > 0 {
			timer := time.NewTimer(c.cfg.BatchPacing)
			select {
			case <-ctx.Done():
				timer.Stop()
				return report, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		group := tiles[start:min(start+size, len(tiles))]
		results := make([]error, len(group))

		var g errgroup.Group
		for i, t := range group {
			i, t := i, t
			g.Go(func() error {
				_, results[i] = c.RequestTile(ctx, TileKey{Layer: layer, Tile: t})
				return nil
			})
		}
		_ = g.Wait()
		report.Groups++

		for _, err := range results {
			switch {
			case err == nil:
				report.Loaded++
			case errors.Is(err, ErrTileFetchCancelled):
				report.Cancelled++
			default:
				report.Failed++
			}
		}
	}

	c.logger.Debug().
		Str("layer", string(layer)).
		Int("requested", report.Requested).
		Int("loaded", report.Loaded).
		Int("failed", report.Failed).
		Int("cancelled", report.Cancelled).
		Msg("Tile prefetch batch finished")
	return report, nil
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	inFlight := len(c.inflight)
	c.mu.Unlock()
	return Stats{
		Fetches:  c.fetches.Load(),
		Hits:     c.hits.Load(),
		Joined:   c.joined.Load(),
		InFlight: inFlight,
		Cached:   c.store.Len(),
	}
}
