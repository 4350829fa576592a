package mocks

import (
	"context"

	"github.com/benmeehan/nav-core/pkg/location"
	"github.com/stretchr/testify/mock"
)

// MockSource is a mock implementation of the location.Source interface
type MockSource struct {
	mock.Mock
}

func (m *MockSource) CurrentPosition(ctx context.Context, opts location.WatchOptions) (location.Position, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(location.Position), args.Error(1)
}

func (m *MockSource) Watch(ctx context.Context, opts location.WatchOptions, onSample func(location.Position), onError func(error)) (location.Subscription, error) {
	args := m.Called(ctx, opts, onSample, onError)
	sub, _ := args.Get(0).(location.Subscription)
	return sub, args.Error(1)
}

// MockSubscription is a mock implementation of the location.Subscription interface
type MockSubscription struct {
	mock.Mock
	done chan struct{}
}

// NewMockSubscription creates a subscription whose Done channel closes on the first Stop.
func NewMockSubscription() *MockSubscription {
	return &MockSubscription{done: make(chan struct{})}
}

func (m *MockSubscription) Stop() {
	m.Called()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *MockSubscription) Done() <-chan struct{} {
	return m.done
}
