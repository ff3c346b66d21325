package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/ryanhale/tracksync/pkg/identity"
)

// MockOwnerInfo is a mock implementation of the OwnerInfoInterface
type MockOwnerInfo struct {
	mock.Mock
}

func (m *MockOwnerInfo) LoadIdentity() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockOwnerInfo) SaveOwnerID(ownerID string) error {
	args := m.Called(ownerID)
	return args.Error(0)
}

func (m *MockOwnerInfo) SaveDeviceID(deviceID string) error {
	args := m.Called(deviceID)
	return args.Error(0)
}

func (m *MockOwnerInfo) GetOwnerID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockOwnerInfo) GetDeviceID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockOwnerInfo) GetIdentity() *identity.Identity {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*identity.Identity)
}
