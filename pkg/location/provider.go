package location

import (
	"context"
	"sync"
)

// Provider is a one-shot position lookup, such as a network geolocation API.
type Provider interface {
	GetPosition(ctx context.Context) (Position, error)
}

// Source is a device position source supporting one-shot reads and watch subscriptions.
type Source interface {
	// CurrentPosition returns a single fix honouring opts.
	CurrentPosition(ctx context.Context, opts WatchOptions) (Position, error)

	// Watch delivers every new fix to onSample and every sampling failure to onError
	// until the returned subscription is stopped or ctx is cancelled.
	// Errors detectable at subscribe time (device missing, permission denied) are returned directly.
	Watch(ctx context.Context, opts WatchOptions, onSample func(Position), onError func(error)) (Subscription, error)
}

// Subscription is the handle of an active watch.
type Subscription interface {
	// Stop releases the device subscription. It is safe to call more than once
	// and from within a sample callback.
	Stop()

	// Done is closed once the sampling goroutine has exited.
	Done() <-chan struct{}
}

type subscription struct {
	once    sync.Once
	cancel  context.CancelFunc
	release func()
	done    chan struct{}
}

func newSubscription(cancel context.CancelFunc, release func()) *subscription {
	return &subscription{
		cancel:  cancel,
		release: release,
		done:    make(chan struct{}),
	}
}

func (s *subscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		if s.release != nil {
			s.release()
		}
	})
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}
