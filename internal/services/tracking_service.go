package services

import (
	"context"
	"errors"
	"sync"

	"github.com/benmeehan/nav-core/pkg/location"
	"github.com/rs/zerolog"
)

// Tracker is the part of tracking.Tracker the service drives.
type Tracker interface {
	StartTracking(ctx context.Context) error
	StopTracking()
	Errors() <-chan error
}

// TrackingService runs position tracking as a registry service and reports device
// errors as they arrive.
type TrackingService struct {
	Tracker Tracker
	Logger  zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTrackingService(tracker Tracker, logger zerolog.Logger) *TrackingService {
	return &TrackingService{Tracker: tracker, Logger: logger}
}

// Start subscribes the tracker to its device source. Permission and availability
// errors are returned and leave the service stopped.
func (s *TrackingService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return errors.New("tracking service is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Tracker.StartTracking(ctx); err != nil {
		cancel()
		if code, ok := location.CodeOf(err); ok {
			s.Logger.Error().Err(err).Str("code", code.String()).Msg(code.Message())
		}
		return err
	}
	s.ctx, s.cancel = ctx, cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportErrors(ctx)
	}()

	s.Logger.Info().Msg("TrackingService started successfully")
	return nil
}

// Stop releases the device subscription.
func (s *TrackingService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return errors.New("tracking service is not running")
	}

	s.Tracker.StopTracking()
	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil
	s.Logger.Info().Msg("TrackingService stopped successfully")
	return nil
}

func (s *TrackingService) reportErrors(ctx context.Context) {
	for {
		select {
		case err := <-s.Tracker.Errors():
			code, ok := location.CodeOf(err)
			if !ok {
				s.Logger.Warn().Err(err).Msg("Position sampling failed")
				continue
			}
			s.Logger.Warn().Err(err).Str("code", code.String()).Msg(code.Message())
		case <-ctx.Done():
			return
		}
	}
}
