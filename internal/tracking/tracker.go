package tracking

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/benmeehan/nav-core/pkg/geo"
	"github.com/benmeehan/nav-core/pkg/location"
	"github.com/rs/zerolog"
)

const (
	// DefaultDistanceFilterMeters suppresses GPS jitter while stationary.
	DefaultDistanceFilterMeters = 5.0
	// DefaultHistoryCap bounds the retained trace; the oldest fixes are evicted first.
	// It is also the largest cap a Config may ask for.
	DefaultHistoryCap = 1000

	errorBufferSize = 16
)

// Status tells whether an ingested sample became the current position.
type Status int

const (
	Filtered Status = iota
	Accepted
)

func (s Status) String() string {
	if s == Accepted {
		return "accepted"
	}
	return "filtered"
}

// Outcome is the result of ingesting one sample. Position is set only when Accepted.
type Outcome struct {
	Status   Status
	Position location.Position
}

// Motion is the derived movement state of the current position.
type Motion struct {
	SpeedMps   float64
	HeadingDeg float64
	HasSpeed   bool
	HasHeading bool
}

// Config controls filtering, retention and device sampling.
type Config struct {
	DistanceFilterMeters float64
	HistoryCap           int
	Watch                location.WatchOptions
}

// Tracker turns a stream of raw device samples into a filtered movement trace.
type Tracker struct {
	source location.Source
	cfg    Config
	logger zerolog.Logger

	mu           sync.Mutex
	current      *location.Position
	lastAccepted *location.Position // distance filter reference
	history      []location.Position
	total        float64
	motion       Motion
	tracking     bool
	generation   uint64
	sub          location.Subscription
	listeners    []func(location.Position)

	errs chan error
}

// NewTracker creates a Tracker reading from source. Zero config values fall back to the
// defaults and HistoryCap is clamped to DefaultHistoryCap.
func NewTracker(source location.Source, cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.DistanceFilterMeters <= 0 {
		cfg.DistanceFilterMeters = DefaultDistanceFilterMeters
	}
	if cfg.HistoryCap <= 0 || cfg.HistoryCap > DefaultHistoryCap {
		cfg.HistoryCap = DefaultHistoryCap
	}
	return &Tracker{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		history: make([]location.Position, 0, cfg.HistoryCap),
		errs:    make(chan error, errorBufferSize),
	}
}

// Ingest applies the distance filter to a sample and, when it passes, records it.
// Samples with non-finite or out of range coordinates are filtered.
func (t *Tracker) Ingest(p location.Position) Outcome {
	if !validCoordinates(p) {
		t.logger.Warn().Float64("lat", p.Latitude).Float64("lng", p.Longitude).Msg("Sample with invalid coordinates dropped")
		return Outcome{Status: Filtered}
	}

	t.mu.Lock()

	distance := 0.0
	if t.lastAccepted != nil {
		distance = geo.Distance(t.lastAccepted.Point(), p.Point())
		if distance < t.cfg.DistanceFilterMeters {
			t.mu.Unlock()
			return Outcome{Status: Filtered}
		}
	}

	t.motion = deriveMotion(t.lastAccepted, p, distance)

	accepted := p
	t.current = &accepted
	t.lastAccepted = &accepted

	if len(t.history) >= t.cfg.HistoryCap {
		// shift in place so the backing array never grows past the cap
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, p)
	t.total += distance

	listeners := t.listeners
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
	return Outcome{Status: Accepted, Position: p}
}

func validCoordinates(p location.Position) bool {
	lat, lng := p.Latitude, p.Longitude
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// deriveMotion prefers device-reported speed and heading and falls back to the
// displacement from the previous accepted fix.
func deriveMotion(prev *location.Position, p location.Position, distance float64) Motion {
	var m Motion
	if p.Speed != nil {
		m.SpeedMps, m.HasSpeed = *p.Speed, true
	}
	if p.Heading != nil {
		m.HeadingDeg, m.HasHeading = *p.Heading, true
	}
	if prev == nil {
		return m
	}

	if !m.HasSpeed {
		if dt := p.Timestamp.Sub(prev.Timestamp).Seconds(); dt > 0 {
			m.SpeedMps, m.HasSpeed = distance/dt, true
		}
	}
	if !m.HasHeading && distance > 0 {
		m.HeadingDeg, m.HasHeading = geo.InitialBearing(prev.Point(), p.Point()), true
	}
	return m
}

// StartTracking subscribes to the device source. It is a no-op when already tracking.
// Errors detected at subscribe time leave tracking stopped.
func (t *Tracker) StartTracking(ctx context.Context) error {
	t.mu.Lock()
	if t.tracking {
		t.mu.Unlock()
		return nil
	}
	if t.source == nil {
		t.mu.Unlock()
		t.logger.Error().Msg("No location source available, tracking cannot start")
		return location.ErrDeviceUnavailable
	}
	t.generation++
	gen := t.generation
	t.tracking = true
	t.mu.Unlock()

	// the lock is not held here so a source may deliver samples before Watch returns
	sub, err := t.source.Watch(ctx, t.cfg.Watch,
		func(p location.Position) { t.handleSample(gen, p) },
		func(err error) { t.handleError(gen, err) },
	)

	t.mu.Lock()
	if err != nil {
		if t.generation == gen {
			t.tracking = false
		}
		t.mu.Unlock()
		t.logger.Error().Err(err).Msg("Failed to start position tracking")
		return err
	}
	if t.generation != gen {
		// stopped while subscribing
		t.mu.Unlock()
		sub.Stop()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()

	t.logger.Info().
		Float64("distance_filter_m", t.cfg.DistanceFilterMeters).
		Int("history_cap", t.cfg.HistoryCap).
		Msg("Position tracking started")
	return nil
}

// StopTracking releases the device subscription. It is a no-op when not tracking.
// Errors still queued from the session are discarded.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}
	t.stopLocked()
}

// stopLocked ends the current session and releases t.mu.
func (t *Tracker) stopLocked() {
	sub := t.sub
	t.sub = nil
	t.tracking = false
	t.generation++
	t.drainErrors()
	t.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	t.logger.Info().Msg("Position tracking stopped")
}

func (t *Tracker) drainErrors() {
	for {
		select {
		case <-t.errs:
		default:
			return
		}
	}
}

func (t *Tracker) handleSample(gen uint64, p location.Position) {
	t.mu.Lock()
	live := t.tracking && t.generation == gen
	t.mu.Unlock()
	if !live {
		return
	}

	if out := t.Ingest(p); out.Status == Filtered {
		t.logger.Trace().Float64("lat", p.Latitude).Float64("lng", p.Longitude).Msg("Sample filtered")
	}
}

func (t *Tracker) handleError(gen uint64, err error) {
	t.mu.Lock()
	live := t.tracking && t.generation == gen
	if !live || err == nil {
		t.mu.Unlock()
		return
	}
	if errors.Is(err, location.ErrPermissionDenied) {
		// revoked while watching: stop without retrying, then report the refusal
		t.logger.Error().Err(err).Msg("Location permission denied, tracking stopped")
		t.stopLocked()
	} else {
		t.mu.Unlock()
	}

	select {
	case t.errs <- err:
	default:
		t.logger.Warn().Err(err).Msg("Tracking error channel full, dropping error")
	}
}

// Errors delivers device-level sampling failures of the current session. They never alter
// the trace; a permission denial also stops tracking.
func (t *Tracker) Errors() <-chan error {
	return t.errs
}

// OnAccepted registers fn to be called with every accepted position, outside the tracker lock.
func (t *Tracker) OnAccepted(fn func(location.Position)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// copy-on-write so Ingest can iterate a snapshot without holding the lock
	listeners := make([]func(location.Position), len(t.listeners), len(t.listeners)+1)
	copy(listeners, t.listeners)
	t.listeners = append(listeners, fn)
}

// History returns a copy of the retained trace, most recent last.
func (t *Tracker) History() []location.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]location.Position, len(t.history))
	copy(out, t.history)
	return out
}

// ClearHistory empties the trace, resets the distance total and makes the next sample unconditionally accepted.
func (t *Tracker) ClearHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = t.history[:0]
	t.total = 0
	t.lastAccepted = nil
	t.logger.Info().Msg("Track history cleared")
}

// Current returns the most recently accepted position.
func (t *Tracker) Current() (location.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return location.Position{}, false
	}
	return *t.current, true
}

// TotalDistanceMeters returns the distance accumulated since the last clear.
func (t *Tracker) TotalDistanceMeters() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Motion returns the derived speed and heading of the current position.
func (t *Tracker) Motion() Motion {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.motion
}

// IsTracking reports whether a device subscription is active.
func (t *Tracker) IsTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// CurrentPosition performs a one-shot read from the device without touching the track state.
func (t *Tracker) CurrentPosition(ctx context.Context) (location.Position, error) {
	if t.source == nil {
		return location.Position{}, location.ErrDeviceUnavailable
	}
	pos, err := t.source.CurrentPosition(ctx, t.cfg.Watch)
	if err != nil {
		t.logger.Warn().Err(err).Msg("One-shot position read failed")
		return location.Position{}, err
	}
	return pos, nil
}
