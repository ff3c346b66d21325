package services

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/services"
	"github.com/ryanhale/tracksync/pkg/mqtt"
	"github.com/ryanhale/tracksync/tests/mocks"
)

// TestMirrorService_PublishesRetainedLocations tests that persisted locations
// are republished as retained MQTT messages per owner.
func TestMirrorService_PublishesRetainedLocations(t *testing.T) {
	// Setup
	mockStore := new(mocks.MockStore)
	mockSub := new(mocks.MockSubscription)
	mockMQTT := new(mocks.MockMQTTClient)
	mockToken := new(mocks.MockToken)

	feedService := services.NewFeedService(mockStore, zerolog.Nop())
	topicManager := &mqtt.TopicManager{BaseTopic: "test"}
	principal := models.Principal{OwnerID: "operator-1"}

	seed := models.LocationSample{OwnerID: "owner-1", Latitude: 35.0, Longitude: -97.0}
	updates := make(chan []models.LocationSample, 1)
	mockStore.On("SubscribeLocations", mock.Anything, mock.Anything).Return(mockSub, nil)
	mockSub.On("Snapshot").Return([]models.LocationSample{seed})
	mockSub.On("Updates").Return((<-chan []models.LocationSample)(updates))
	mockSub.On("Unsubscribe").Return()

	mockToken.On("Wait").Return(true)
	mockToken.On("Error").Return(nil)
	mockMQTT.On("Publish", "test/locations/owner-1", byte(1), true, mock.Anything).Return(mockToken)
	mockMQTT.On("Publish", "test/locations/owner-2", byte(1), true, mock.Anything).Return(mockToken)

	mirror := services.NewMirrorService(1, principal, feedService, mockMQTT, topicManager, zerolog.Nop())

	// Execute
	err := mirror.Start()
	assert.NoError(t, err)

	// The seed snapshot is published on startup.
	mockMQTT.AssertCalled(t, "Publish", "test/locations/owner-1", byte(1), true, mock.Anything)

	// A remote change is mirrored to its owner topic.
	updates <- []models.LocationSample{
		seed,
		{OwnerID: "owner-2", Latitude: 40.0, Longitude: -74.0},
	}
	time.Sleep(100 * time.Millisecond)
	mockMQTT.AssertCalled(t, "Publish", "test/locations/owner-2", byte(1), true, mock.Anything)

	// Cleanup
	err = mirror.Stop()
	assert.NoError(t, err)
	mockSub.AssertCalled(t, "Unsubscribe")
}

// TestMirrorService_RequiresPrincipal tests that the mirror fails to start
// without an authenticated principal.
func TestMirrorService_RequiresPrincipal(t *testing.T) {
	// Setup
	mockStore := new(mocks.MockStore)
	mockMQTT := new(mocks.MockMQTTClient)
	feedService := services.NewFeedService(mockStore, zerolog.Nop())
	topicManager := &mqtt.TopicManager{BaseTopic: "test"}

	mirror := services.NewMirrorService(1, models.Principal{}, feedService, mockMQTT, topicManager, zerolog.Nop())

	// Execute
	err := mirror.Start()

	// Assert
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	mockStore.AssertNotCalled(t, "SubscribeLocations", mock.Anything, mock.Anything)
}
