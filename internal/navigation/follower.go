package navigation

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/benmeehan/nav-core/internal/tiles"
	"github.com/benmeehan/nav-core/internal/viewport"
	"github.com/benmeehan/nav-core/pkg/geo"
	"github.com/benmeehan/nav-core/pkg/location"
	"github.com/rs/zerolog"
)

// PositionFeed is the part of the tracker the follower listens to.
type PositionFeed interface {
	OnAccepted(fn func(location.Position))
	Current() (location.Position, bool)
}

// TilePrefetcher is the part of the tile coordinator the follower drives.
type TilePrefetcher interface {
	PrefetchBatch(ctx context.Context, layer tiles.Layer, ts []tiles.Tile) (tiles.BatchReport, error)
	ClearCache()
}

// Follower keeps the viewport on the current position while follow mode is active
// and prefetches the tiles around every new center. A newer center supersedes the
// prefetch of the previous one.
type Follower struct {
	view   *viewport.Viewport
	feed   PositionFeed
	tiles  TilePrefetcher
	screen image.Point
	logger zerolog.Logger
	attach sync.Once

	mu       sync.Mutex
	layer    tiles.Layer
	running  bool
	base     context.Context
	stop     context.CancelFunc
	cancelFn context.CancelFunc // current prefetch
	wg       sync.WaitGroup
}

func NewFollower(view *viewport.Viewport, feed PositionFeed, prefetcher TilePrefetcher, layer tiles.Layer,
	screen image.Point, logger zerolog.Logger) *Follower {
	return &Follower{
		view:   view,
		feed:   feed,
		tiles:  prefetcher,
		layer:  layer,
		screen: screen,
		logger: logger,
	}
}

// Start begins following accepted positions.
func (f *Follower) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return errors.New("navigation follower is already running")
	}
	f.base, f.stop = context.WithCancel(context.Background())
	f.running = true

	// listeners cannot be removed from the tracker, so register once and gate on running
	f.attach.Do(func() { f.feed.OnAccepted(f.onPosition) })

	f.logger.Info().Str("layer", string(f.layer)).Msg("Navigation follower started")
	return nil
}

// Stop cancels any running prefetch and waits for it to return.
func (f *Follower) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return errors.New("navigation follower is not running")
	}
	f.running = false
	f.stop()
	f.cancelFn = nil
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Info().Msg("Navigation follower stopped")
	return nil
}

func (f *Follower) onPosition(p location.Position) {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if !running {
		return
	}
	if f.view.FollowPosition(p.Latitude, p.Longitude) {
		f.prefetch()
	}
}

// Recenter snaps the viewport back onto the current position and re-enables follow
// mode. It reports false when no position is known yet.
func (f *Follower) Recenter() bool {
	p, ok := f.feed.Current()
	if !ok {
		return false
	}
	f.view.CenterOnUser(p.Latitude, p.Longitude)
	f.prefetch()
	return true
}

// SetLayer switches imagery. Tiles of the old layer are dropped and in-flight fetches cancelled.
func (f *Follower) SetLayer(layer tiles.Layer) {
	f.mu.Lock()
	if f.layer == layer {
		f.mu.Unlock()
		return
	}
	f.layer = layer
	f.mu.Unlock()

	f.tiles.ClearCache()
	f.logger.Info().Str("layer", string(layer)).Msg("Map layer switched")
	f.prefetch()
}

func (f *Follower) Layer() tiles.Layer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layer
}

// prefetch loads the tiles visible around the current viewport center, superseding
// the previous prefetch.
func (f *Follower) prefetch() {
	snap := f.view.Snapshot()
	visible := tiles.VisibleTiles(geo.Point{Lat: snap.CenterLat, Lng: snap.CenterLng}, snap.Zoom, f.screen)

	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	if f.cancelFn != nil {
		f.cancelFn()
	}
	ctx, cancel := context.WithCancel(f.base)
	f.cancelFn = cancel
	layer := f.layer
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer cancel()

		report, err := f.tiles.PrefetchBatch(ctx, layer, visible)
		if err != nil {
			f.logger.Debug().Err(err).Msg("Tile prefetch superseded")
			return
		}
		f.logger.Debug().
			Int("tiles", report.Requested).
			Int("failed", report.Failed).
			Float64("lat", snap.CenterLat).
			Float64("lng", snap.CenterLng).
			Int("zoom", snap.Zoom).
			Msg("Viewport tiles prefetched")
	}()
}
