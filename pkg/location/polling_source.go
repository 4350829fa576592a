package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PollingSource turns a one-shot Provider into a watchable Source by sampling it on an interval.
type PollingSource struct {
	provider Provider
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	last    Position
	hasLast bool
}

// NewPollingSource creates a PollingSource sampling provider every interval.
func NewPollingSource(provider Provider, interval time.Duration, logger zerolog.Logger) *PollingSource {
	return &PollingSource{
		provider: provider,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// CurrentPosition returns a cached fix younger than opts.MaximumAge, or asks the provider for a new one.
func (s *PollingSource) CurrentPosition(ctx context.Context, opts WatchOptions) (Position, error) {
	if s.provider == nil {
		return Position{}, ErrDeviceUnavailable
	}

	if opts.MaximumAge > 0 {
		s.mu.Lock()
		cached, ok := s.last, s.hasLast
		s.mu.Unlock()
		if ok && s.now().Sub(cached.Timestamp) <= opts.MaximumAge {
			return cached, nil
		}
	}

	sampleCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		sampleCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	pos, err := s.provider.GetPosition(sampleCtx)
	if err != nil {
		return Position{}, classify(sampleCtx, err)
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = s.now()
	}

	s.mu.Lock()
	s.last, s.hasLast = pos, true
	s.mu.Unlock()

	return pos, nil
}

// Watch takes the first sample before returning so that a missing device or a denied
// permission is reported to the caller, then samples on every interval until the
// subscription is stopped. A permission denied while polling ends the subscription.
func (s *PollingSource) Watch(ctx context.Context, opts WatchOptions, onSample func(Position), onError func(error)) (Subscription, error) {
	if s.provider == nil {
		return nil, ErrDeviceUnavailable
	}
	if onSample == nil {
		return nil, errors.New("location: watch requires a sample callback")
	}
	if s.interval <= 0 {
		return nil, errors.New("location: polling interval must be positive")
	}

	// a watch never serves cached fixes
	opts.MaximumAge = 0

	watchCtx, cancel := context.WithCancel(ctx)
	first, err := s.CurrentPosition(watchCtx, opts)
	if watchCtx.Err() != nil {
		cancel()
		return nil, ctx.Err()
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		cancel()
		s.logger.Error().Err(err).Msg("Polling location source cannot start")
		return nil, err
	}

	sub := newSubscription(cancel, nil)
	go func() {
		defer close(sub.done)
		s.poll(watchCtx, opts, first, err, onSample, onError)
	}()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("timeout", opts.Timeout).
		Msg("Polling location source started")
	return sub, nil
}

func (s *PollingSource) poll(ctx context.Context, opts WatchOptions, pos Position, err error, onSample func(Position), onError func(error)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to sample location provider")
			if onError != nil {
				onError(err)
			}
			if errors.Is(err, ErrPermissionDenied) {
				s.logger.Error().Msg("Location permission denied, polling stopped")
				return
			}
		} else {
			onSample(pos)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info().Msg("Polling location source stopping")
			return
		}

		pos, err = s.CurrentPosition(ctx, opts)
		if ctx.Err() != nil {
			s.logger.Info().Msg("Polling location source stopping")
			return
		}
	}
}
