package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/store"
)

// MockStore is a mock implementation of the store.Store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAccount(ctx context.Context, email, password string) (models.Principal, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(models.Principal), args.Error(1)
}

func (m *MockStore) Authenticate(ctx context.Context, email, password string) (models.Principal, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(models.Principal), args.Error(1)
}

func (m *MockStore) PutLocation(ctx context.Context, sample models.LocationSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockStore) Locations(ctx context.Context, filter store.Filter) ([]models.LocationSample, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LocationSample), args.Error(1)
}

func (m *MockStore) SaveDevice(ctx context.Context, device *models.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockStore) DevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Device), args.Error(1)
}

func (m *MockStore) SubscribeLocations(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(store.Subscription), args.Error(1)
}

func (m *MockStore) MinAgentVersion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockSubscription is a mock implementation of the store.Subscription interface
type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Snapshot() []models.LocationSample {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]models.LocationSample)
}

func (m *MockSubscription) Updates() <-chan []models.LocationSample {
	args := m.Called()
	return args.Get(0).(<-chan []models.LocationSample)
}

func (m *MockSubscription) Unsubscribe() {
	m.Called()
}

// MockHistoryRecorder is a mock implementation of the store.HistoryRecorder interface
type MockHistoryRecorder struct {
	mock.Mock
}

func (m *MockHistoryRecorder) Record(ctx context.Context, sample models.LocationSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}
