package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ryanhale/tracksync/pkg/position"
)

// MockPositionSource is a mock implementation of the position.Source interface
type MockPositionSource struct {
	mock.Mock
}

func (m *MockPositionSource) RequestPermission(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPositionSource) Current(ctx context.Context) (position.Sample, error) {
	args := m.Called(ctx)
	return args.Get(0).(position.Sample), args.Error(1)
}

func (m *MockPositionSource) Watch(ctx context.Context, cfg position.WatchConfig) (position.Watcher, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(position.Watcher), args.Error(1)
}

// MockWatcher is a mock implementation of the position.Watcher interface
type MockWatcher struct {
	mock.Mock
}

func (m *MockWatcher) Updates() <-chan position.Sample {
	args := m.Called()
	return args.Get(0).(<-chan position.Sample)
}

func (m *MockWatcher) Stop() {
	m.Called()
}
