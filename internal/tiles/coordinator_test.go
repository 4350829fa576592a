package tiles

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedFetcher blocks every fetch until release is closed, then answers with fail(url)
// or a 1x1 image.
type gatedFetcher struct {
	mu      sync.Mutex
	urls    []string
	release chan struct{}
	fail    func(url string) error
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{release: make(chan struct{})}
}

func (g *gatedFetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	g.mu.Lock()
	g.urls = append(g.urls, url)
	g.mu.Unlock()

	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.fail != nil {
		if err := g.fail(url); err != nil {
			return nil, err
		}
	}
	return NewImage(image.NewRGBA(image.Rect(0, 0, 1, 1)), "png"), nil
}

func (g *gatedFetcher) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.urls...)
}

func (g *gatedFetcher) open() { close(g.release) }

type result struct {
	img *Image
	err error
}

func requestAsync(c *Coordinator, ctx context.Context, key TileKey) <-chan result {
	out := make(chan result, 1)
	go func() {
		img, err := c.RequestTile(ctx, key)
		out <- result{img, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request did not settle")
		return result{}
	}
}

var keyA = NewTileKey(LayerStandard, 3, 4, 2)

func TestCoordinator_DeduplicatesConcurrentRequests(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	first := requestAsync(c, context.Background(), keyA)
	require.Eventually(t, func() bool { return len(f.calls()) == 1 }, time.Second, time.Millisecond)

	second := requestAsync(c, context.Background(), keyA)
	require.Eventually(t, func() bool { return c.Stats().Joined == 1 }, time.Second, time.Millisecond)

	entry, ok := c.Lookup(keyA)
	require.True(t, ok)
	assert.Equal(t, Pending, entry.Status)

	f.open()
	r1, r2 := await(t, first), await(t, second)
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Same(t, r1.img, r2.img)
	assert.Len(t, f.calls(), 1)

	entry, ok = c.Lookup(keyA)
	require.True(t, ok)
	assert.Equal(t, Loaded, entry.Status)
	assert.Equal(t, 0, c.Stats().InFlight)
}

func TestCoordinator_ServesLoadedFromCache(t *testing.T) {
	f := newGatedFetcher()
	f.open()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	img, err := c.RequestTile(context.Background(), keyA)
	require.NoError(t, err)

	again, err := c.RequestTile(context.Background(), keyA)
	require.NoError(t, err)
	assert.Same(t, img, again)
	assert.Len(t, f.calls(), 1)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestCoordinator_RequestsUseLayerURL(t *testing.T) {
	f := newGatedFetcher()
	f.open()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	_, err := c.RequestTile(context.Background(), NewTileKey(LayerSatellite, 5, 17, 11))
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/5/11/17"},
		f.calls())
}

func TestCoordinator_FailureIsCachedAndRetried(t *testing.T) {
	f := newGatedFetcher()
	f.open()
	boom := errors.New("connection reset")
	f.fail = func(string) error { return boom }
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	_, err := c.RequestTile(context.Background(), keyA)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTileFetchFailed)
	assert.ErrorIs(t, err, boom)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, keyA, fe.Key)

	entry, ok := c.Lookup(keyA)
	require.True(t, ok)
	assert.Equal(t, Failed, entry.Status)
	assert.Nil(t, entry.Image)

	// no cooldown: a new request re-attempts
	f.fail = nil
	img, err := c.RequestTile(context.Background(), keyA)
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Len(t, f.calls(), 2)
}

func TestCoordinator_FailureCooldown(t *testing.T) {
	f := newGatedFetcher()
	f.open()
	f.fail = func(string) error { return &HTTPStatusError{Code: 503, Body: "busy"} }
	c := NewCoordinator(f, Config{FailureCooldown: time.Minute}, zerolog.Nop())
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.RequestTile(context.Background(), keyA)
	var he *HTTPStatusError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 503, he.Code)

	_, err = c.RequestTile(context.Background(), keyA)
	assert.ErrorIs(t, err, ErrTileFetchFailed)
	assert.Len(t, f.calls(), 1)

	now = now.Add(2 * time.Minute)
	_, err = c.RequestTile(context.Background(), keyA)
	assert.Error(t, err)
	assert.Len(t, f.calls(), 2)
}

func TestCoordinator_CancelAllRejectsWaitersAndLeavesNoEntry(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	first := requestAsync(c, context.Background(), keyA)
	second := requestAsync(c, context.Background(), keyA)
	require.Eventually(t, func() bool {
		return len(f.calls()) == 1 && c.Stats().Joined == 1
	}, time.Second, time.Millisecond)

	c.CancelAll()

	for _, r := range []result{await(t, first), await(t, second)} {
		assert.ErrorIs(t, r.err, ErrTileFetchCancelled)
		assert.NotErrorIs(t, r.err, ErrTileFetchFailed)
		assert.Nil(t, r.img)
	}
	_, ok := c.Lookup(keyA)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().InFlight)

	// retry starts a fresh fetch
	f.open()
	img, err := c.RequestTile(context.Background(), keyA)
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Len(t, f.calls(), 2)
}

func TestCoordinator_CancelAllKeepsSettledEntries(t *testing.T) {
	f := newGatedFetcher()
	f.open()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	_, err := c.RequestTile(context.Background(), keyA)
	require.NoError(t, err)

	c.CancelAll()
	entry, ok := c.Lookup(keyA)
	require.True(t, ok)
	assert.Equal(t, Loaded, entry.Status)
}

func TestCoordinator_CallerContextOnlyBoundsItsWait(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := requestAsync(c, ctx, keyA)
	require.Eventually(t, func() bool { return len(f.calls()) == 1 }, time.Second, time.Millisecond)

	cancel()
	r := await(t, abandoned)
	assert.ErrorIs(t, r.err, ErrTileFetchCancelled)
	assert.ErrorIs(t, r.err, context.Canceled)

	f.open()
	require.Eventually(t, func() bool {
		e, ok := c.Lookup(keyA)
		return ok && e.Status == Loaded
	}, time.Second, time.Millisecond)
	assert.Len(t, f.calls(), 1)
}

func TestCoordinator_RequestTimeoutIsAFailure(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{RequestTimeout: 20 * time.Millisecond}, zerolog.Nop())

	_, err := c.RequestTile(context.Background(), keyA)
	assert.ErrorIs(t, err, ErrTileFetchFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	entry, ok := c.Lookup(keyA)
	require.True(t, ok)
	assert.Equal(t, Failed, entry.Status)
}

func TestCoordinator_RejectsBadKeys(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	_, err := c.RequestTile(context.Background(), NewTileKey("terrain", 1, 0, 0))
	assert.ErrorIs(t, err, ErrUnknownLayer)

	_, err = c.RequestTile(context.Background(), NewTileKey(LayerStandard, 2, 4, 0))
	assert.ErrorIs(t, err, ErrInvalidTile)

	assert.Empty(t, f.calls())
}

func TestCoordinator_ClearCache(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	pending := requestAsync(c, context.Background(), keyA)
	require.Eventually(t, func() bool { return len(f.calls()) == 1 }, time.Second, time.Millisecond)

	c.ClearCache()
	assert.ErrorIs(t, await(t, pending).err, ErrTileFetchCancelled)
	assert.Equal(t, 0, c.Stats().Cached)

	f.open()
	_, err := c.RequestTile(context.Background(), keyA)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Cached)

	c.ClearCache()
	_, ok := c.Lookup(keyA)
	assert.False(t, ok)
}

func TestCoordinator_PrefetchBatchGroupsOfFour(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	tiles := []Tile{
		{Zoom: 4, X: 1, Y: 1}, // A
		{Zoom: 4, X: 2, Y: 1}, // B
		{Zoom: 4, X: 3, Y: 1}, // C
		{Zoom: 4, X: 4, Y: 1}, // D
		{Zoom: 4, X: 5, Y: 1}, // E
	}

	done := make(chan BatchReport, 1)
	go func() {
		report, err := c.PrefetchBatch(context.Background(), LayerStandard, tiles)
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, func() bool { return len(f.calls()) == 4 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return len(f.calls()) > 4 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.NotContains(t, f.calls(), "https://tile.openstreetmap.org/4/5/1.png")

	f.open()

	var report BatchReport
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not finish")
	}
	calls := f.calls()
	require.Len(t, calls, 5)
	assert.Equal(t, "https://tile.openstreetmap.org/4/5/1.png", calls[4])
	assert.Equal(t, BatchReport{Requested: 5, Loaded: 5, Groups: 2}, report)
}

func TestCoordinator_PrefetchBatchContinuesPastFailures(t *testing.T) {
	f := newGatedFetcher()
	f.open()
	f.fail = func(url string) error {
		if url == "https://tile.openstreetmap.org/2/1/1.png" {
			return &HTTPStatusError{Code: 404}
		}
		return nil
	}
	c := NewCoordinator(f, Config{BatchSize: 2, BatchPacing: -1}, zerolog.Nop())

	tiles := []Tile{{Zoom: 2, X: 0, Y: 0}, {Zoom: 2, X: 1, Y: 1}, {Zoom: 2, X: 2, Y: 2}, {Zoom: 2, X: 9, Y: 9}}
	report, err := c.PrefetchBatch(context.Background(), LayerStandard, tiles)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Requested: 4, Loaded: 2, Failed: 2, Groups: 2}, report)
}

func TestCoordinator_PrefetchBatchStopsOnCancelledContext(t *testing.T) {
	f := newGatedFetcher()
	c := NewCoordinator(f, Config{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := c.PrefetchBatch(ctx, LayerStandard, []Tile{{Zoom: 1, X: 0, Y: 0}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Groups)
	assert.Empty(t, f.calls())
}
