package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/services"
	"github.com/ryanhale/tracksync/internal/store"
	"github.com/ryanhale/tracksync/tests/mocks"
)

// TestFeedService_Subscribe_Unauthenticated tests that an unresolved
// principal is rejected before any backend call.
func TestFeedService_Subscribe_Unauthenticated(t *testing.T) {
	// Setup
	mockStore := new(mocks.MockStore)
	feedService := services.NewFeedService(mockStore, zerolog.Nop())

	// Execute
	feed, err := feedService.Subscribe(context.Background(), models.Principal{}, store.Filter{})

	// Assert
	assert.Nil(t, feed)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	mockStore.AssertNotCalled(t, "SubscribeLocations", mock.Anything, mock.Anything)
}

// TestFeedService_Subscribe_FilterRestriction tests that a feed never yields
// a record outside its filter, in the snapshot or in updates.
func TestFeedService_Subscribe_FilterRestriction(t *testing.T) {
	// Setup
	mockStore := new(mocks.MockStore)
	mockSub := new(mocks.MockSubscription)
	feedService := services.NewFeedService(mockStore, zerolog.Nop())

	mine := models.LocationSample{OwnerID: "owner-1", Latitude: 35.0, Longitude: -97.0}
	theirs := models.LocationSample{OwnerID: "owner-2", Latitude: 40.0, Longitude: -74.0}

	updates := make(chan []models.LocationSample, 1)
	mockStore.On("SubscribeLocations", mock.Anything, mock.Anything).Return(mockSub, nil)
	mockSub.On("Snapshot").Return([]models.LocationSample{mine, theirs})
	mockSub.On("Updates").Return((<-chan []models.LocationSample)(updates))
	mockSub.On("Unsubscribe").Return()

	principal := models.Principal{OwnerID: "owner-1", Email: "one@example.com"}

	// Execute
	feed, err := feedService.Subscribe(context.Background(), principal, store.Filter{OwnerID: "owner-1"})
	assert.NoError(t, err)
	assert.Equal(t, services.FeedLive, feed.State())

	// Assert: the snapshot is restricted.
	snapshot := feed.Snapshot()
	assert.Len(t, snapshot, 1)
	assert.Equal(t, "owner-1", snapshot[0].OwnerID)

	// Assert: forwarded result sets are restricted too.
	updates <- []models.LocationSample{mine, theirs}
	select {
	case forwarded := <-feed.Updates():
		assert.Len(t, forwarded, 1)
		assert.Equal(t, "owner-1", forwarded[0].OwnerID)
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded result set")
	}

	// Cleanup
	close(updates)
	feed.Unsubscribe()
}

// TestFeed_SlowConsumerReceivesNewest tests that a consumer who falls behind
// may lose intermediate result sets but never the newest one.
func TestFeed_SlowConsumerReceivesNewest(t *testing.T) {
	// Setup
	mockStore := new(mocks.MockStore)
	mockSub := new(mocks.MockSubscription)
	feedService := services.NewFeedService(mockStore, zerolog.Nop())

	updates := make(chan []models.LocationSample, 16)
	mockStore.On("SubscribeLocations", mock.Anything, mock.Anything).Return(mockSub, nil)
	mockSub.On("Snapshot").Return(nil)
	mockSub.On("Updates").Return((<-chan []models.LocationSample)(updates))
	mockSub.On("Unsubscribe").Return()

	principal := models.Principal{OwnerID: "owner-1"}
	feed, err := feedService.Subscribe(context.Background(), principal, store.Filter{OwnerID: "owner-1"})
	assert.NoError(t, err)

	// Execute: flood the feed without reading anything.
	for i := 1; i <= 10; i++ {
		updates <- []models.LocationSample{{OwnerID: "owner-1", Latitude: float64(i)}}
	}

	// Assert: draining eventually yields the final result set.
	var last []models.LocationSample
	assert.Eventually(t, func() bool {
		select {
		case snapshot := <-feed.Updates():
			last = snapshot
		default:
		}
		return len(last) == 1 && last[0].Latitude == 10.0
	}, time.Second, time.Millisecond)

	// Cleanup
	close(updates)
	feed.Unsubscribe()
}

// TestFeed_Unsubscribe_Idempotent tests that unsubscribing twice releases the
// backend subscription exactly once and closes the update channel.
func TestFeed_Unsubscribe_Idempotent(t *testing.T) {
	// Setup
	mockStore := new(mocks.MockStore)
	mockSub := new(mocks.MockSubscription)
	feedService := services.NewFeedService(mockStore, zerolog.Nop())

	updates := make(chan []models.LocationSample, 1)
	mockStore.On("SubscribeLocations", mock.Anything, mock.Anything).Return(mockSub, nil)
	mockSub.On("Snapshot").Return(nil)
	mockSub.On("Updates").Return((<-chan []models.LocationSample)(updates))
	mockSub.On("Unsubscribe").Run(func(mock.Arguments) { close(updates) }).Return()

	principal := models.Principal{OwnerID: "owner-1"}
	feed, err := feedService.Subscribe(context.Background(), principal, store.Filter{OwnerID: "owner-1"})
	assert.NoError(t, err)

	// Execute
	feed.Unsubscribe()
	feed.Unsubscribe()

	// Assert
	assert.Equal(t, services.FeedClosed, feed.State())
	mockSub.AssertNumberOfCalls(t, "Unsubscribe", 1)

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-feed.Updates():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

// TestFeedService_Stop_ClosesFeeds tests that shutdown unsubscribes every
// feed still open.
func TestFeedService_Stop_ClosesFeeds(t *testing.T) {
	// Setup
	mockStore := new(mocks.MockStore)
	mockSub := new(mocks.MockSubscription)
	feedService := services.NewFeedService(mockStore, zerolog.Nop())

	updates := make(chan []models.LocationSample)
	mockStore.On("SubscribeLocations", mock.Anything, mock.Anything).Return(mockSub, nil)
	mockSub.On("Snapshot").Return(nil)
	mockSub.On("Updates").Return((<-chan []models.LocationSample)(updates))
	mockSub.On("Unsubscribe").Return()

	principal := models.Principal{OwnerID: "owner-1"}
	first, err := feedService.Subscribe(context.Background(), principal, store.Filter{OwnerID: "owner-1"})
	assert.NoError(t, err)
	second, err := feedService.Subscribe(context.Background(), principal, store.Filter{})
	assert.NoError(t, err)

	// Execute
	err = feedService.Stop()

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, services.FeedClosed, first.State())
	assert.Equal(t, services.FeedClosed, second.State())
	mockSub.AssertNumberOfCalls(t, "Unsubscribe", 2)
}
