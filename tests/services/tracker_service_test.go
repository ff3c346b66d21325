package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/services"
	"github.com/ryanhale/tracksync/pkg/position"
	"github.com/ryanhale/tracksync/tests/mocks"
)

func newTrackerService(mode services.AcquisitionMode, source *mocks.MockPositionSource,
	st *mocks.MockStore) (*services.TrackerService, *mocks.MockOwnerInfo) {
	mockOwnerInfo := new(mocks.MockOwnerInfo)
	mockOwnerInfo.On("GetDeviceID").Return("test-device-id").Maybe()

	config := services.TrackerConfig{
		Mode: mode,
		Watch: position.WatchConfig{
			MinInterval: time.Millisecond,
			MinDistance: 0.001,
		},
	}
	return services.NewTrackerService(config, mockOwnerInfo, source, st, nil, zerolog.Nop()), mockOwnerInfo
}

// TestTrackerService_Activate_EmptyOwner tests that activation with an empty
// owner id is rejected and leaves tracking inactive.
func TestTrackerService_Activate_EmptyOwner(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	tracker, _ := newTrackerService(services.ModeOneShot, mockSource, mockStore)

	// Execute
	err := tracker.Activate("")

	// Assert
	assert.ErrorIs(t, err, models.ErrInvalidOwnerID)

	status, known := tracker.Status("")
	assert.False(t, known)
	assert.Equal(t, models.TrackingInactive, status.State)
	mockSource.AssertNotCalled(t, "RequestPermission", mock.Anything)
	mockStore.AssertNotCalled(t, "PutLocation", mock.Anything, mock.Anything)
}

// TestTrackerService_Activate_PermissionDenied tests that a permission denial
// records the failure and writes nothing.
func TestTrackerService_Activate_PermissionDenied(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	tracker, _ := newTrackerService(services.ModeOneShot, mockSource, mockStore)

	mockSource.On("RequestPermission", mock.Anything).Return(position.ErrPermissionDenied)

	// Execute
	err := tracker.Activate("owner-1")

	// Assert: the denial is not an activation error, it is session state.
	assert.NoError(t, err)

	status, known := tracker.Status("owner-1")
	assert.True(t, known)
	assert.Equal(t, models.TrackingInactive, status.State)
	assert.False(t, status.PermissionGranted)
	assert.Equal(t, models.ErrPermissionDenied.Error(), status.LastError)
	assert.Equal(t, uint64(0), status.Writes)
	mockStore.AssertNotCalled(t, "PutLocation", mock.Anything, mock.Anything)
}

// TestTrackerService_OneShot_PersistsSingleSample tests the one-shot mode:
// one read, one write, then the session goes inactive on its own.
func TestTrackerService_OneShot_PersistsSingleSample(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	tracker, _ := newTrackerService(services.ModeOneShot, mockSource, mockStore)

	sample := position.Sample{Latitude: 35.0, Longitude: -97.0, Accuracy: 4.2, CapturedAt: time.Now()}
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Current", mock.Anything).Return(sample, nil)
	mockStore.On("PutLocation", mock.Anything, mock.MatchedBy(func(r models.LocationSample) bool {
		return r.OwnerID == "owner-1" && r.DeviceID == "test-device-id" && r.Latitude == 35.0
	})).Return(nil)

	// Execute
	err := tracker.Activate("owner-1")
	assert.NoError(t, err)

	// Assert
	assert.Eventually(t, func() bool {
		status, _ := tracker.Status("owner-1")
		return status.Writes == 1 && status.State == models.TrackingInactive
	}, time.Second, 10*time.Millisecond)

	mockStore.AssertNumberOfCalls(t, "PutLocation", 1)
	tracker.Deactivate("owner-1")
}

// TestTrackerService_Continuous_PersistsEveryUpdate tests that every update
// emitted by the watcher is written in order.
func TestTrackerService_Continuous_PersistsEveryUpdate(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	mockWatcher := new(mocks.MockWatcher)
	tracker, _ := newTrackerService(services.ModeContinuous, mockSource, mockStore)

	updates := make(chan position.Sample, 3)
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Watch", mock.Anything, mock.Anything).Return(mockWatcher, nil)
	mockWatcher.On("Updates").Return((<-chan position.Sample)(updates))
	mockWatcher.On("Stop").Return()

	var mu sync.Mutex
	var persisted []models.LocationSample
	mockStore.On("PutLocation", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		persisted = append(persisted, args.Get(1).(models.LocationSample))
		mu.Unlock()
	}).Return(nil)

	// Execute
	err := tracker.Activate("owner-1")
	assert.NoError(t, err)

	base := time.Now()
	updates <- position.Sample{Latitude: 35.0, Longitude: -97.0, CapturedAt: base}
	updates <- position.Sample{Latitude: 35.0001, Longitude: -97.0, CapturedAt: base.Add(time.Second)}
	updates <- position.Sample{Latitude: 35.0002, Longitude: -97.0, CapturedAt: base.Add(2 * time.Second)}

	// Assert
	assert.Eventually(t, func() bool {
		status, _ := tracker.Status("owner-1")
		return status.Writes == 3
	}, time.Second, 10*time.Millisecond)

	status, _ := tracker.Status("owner-1")
	assert.Equal(t, models.TrackingActive, status.State)

	mu.Lock()
	assert.Len(t, persisted, 3)
	assert.Equal(t, 35.0002, persisted[2].Latitude)
	mu.Unlock()

	// Cleanup
	tracker.Deactivate("owner-1")
	mockWatcher.AssertCalled(t, "Stop")
}

// TestTrackerService_Continuous_StoreFailureKeepsTracking tests the fail-open
// behavior: a failed write is recorded and the session keeps going.
func TestTrackerService_Continuous_StoreFailureKeepsTracking(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	mockWatcher := new(mocks.MockWatcher)
	tracker, _ := newTrackerService(services.ModeContinuous, mockSource, mockStore)

	updates := make(chan position.Sample, 2)
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Watch", mock.Anything, mock.Anything).Return(mockWatcher, nil)
	mockWatcher.On("Updates").Return((<-chan position.Sample)(updates))
	mockWatcher.On("Stop").Return()

	mockStore.On("PutLocation", mock.Anything, mock.Anything).Return(models.ErrStoreUnavailable).Once()
	mockStore.On("PutLocation", mock.Anything, mock.Anything).Return(nil)

	// Execute
	err := tracker.Activate("owner-1")
	assert.NoError(t, err)

	updates <- position.Sample{Latitude: 35.0, Longitude: -97.0, CapturedAt: time.Now()}
	updates <- position.Sample{Latitude: 36.0, Longitude: -97.0, CapturedAt: time.Now()}

	// Assert: one failure, one success, session still running.
	assert.Eventually(t, func() bool {
		status, _ := tracker.Status("owner-1")
		return status.Writes == 1 && status.Errors == 1
	}, time.Second, 10*time.Millisecond)

	status, _ := tracker.Status("owner-1")
	assert.Equal(t, models.TrackingError, status.State)
	assert.Equal(t, models.ErrStoreUnavailable.Error(), status.LastError)

	// Cleanup
	tracker.Deactivate("owner-1")
}

// TestTrackerService_ImmediateDeactivate_AtMostOneWrite tests that a session
// deactivated right after activation writes at most once; an in-flight read
// finishing after cancellation is discarded.
func TestTrackerService_ImmediateDeactivate_AtMostOneWrite(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	tracker, _ := newTrackerService(services.ModeOneShot, mockSource, mockStore)

	sample := position.Sample{Latitude: 35.0, Longitude: -97.0, CapturedAt: time.Now()}
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Current", mock.Anything).Run(func(args mock.Arguments) {
		// Hold the read until the session is cancelled.
		<-args.Get(0).(context.Context).Done()
	}).Return(sample, nil)
	mockStore.On("PutLocation", mock.Anything, mock.Anything).Return(nil).Maybe()

	// Execute
	err := tracker.Activate("owner-1")
	assert.NoError(t, err)
	tracker.Deactivate("owner-1")

	// Assert
	status, _ := tracker.Status("owner-1")
	assert.Equal(t, models.TrackingInactive, status.State)
	assert.LessOrEqual(t, status.Writes, uint64(1))
}

// TestTrackerService_Activate_AlreadyActive tests that a second activation
// for the same owner is rejected while the first session runs.
func TestTrackerService_Activate_AlreadyActive(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	mockWatcher := new(mocks.MockWatcher)
	tracker, _ := newTrackerService(services.ModeContinuous, mockSource, mockStore)

	updates := make(chan position.Sample)
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Watch", mock.Anything, mock.Anything).Return(mockWatcher, nil)
	mockWatcher.On("Updates").Return((<-chan position.Sample)(updates))
	mockWatcher.On("Stop").Return()

	err := tracker.Activate("owner-1")
	assert.NoError(t, err)

	// Execute
	err = tracker.Activate("owner-1")

	// Assert
	assert.ErrorIs(t, err, services.ErrTrackingActive)
	assert.Equal(t, "tracking is already active for owner", err.Error())

	// Cleanup
	tracker.Deactivate("owner-1")
}

// TestTrackerService_Activate_ConcurrentSingleWinner tests that racing
// activations for one owner admit exactly one session; the rest must not
// orphan a running watcher.
func TestTrackerService_Activate_ConcurrentSingleWinner(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	mockWatcher := new(mocks.MockWatcher)
	tracker, _ := newTrackerService(services.ModeContinuous, mockSource, mockStore)

	updates := make(chan position.Sample)
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Watch", mock.Anything, mock.Anything).Return(mockWatcher, nil)
	mockWatcher.On("Updates").Return((<-chan position.Sample)(updates))
	mockWatcher.On("Stop").Return()

	// Execute
	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Activate("owner-1"); err == nil {
				atomic.AddInt64(&successes, 1)
			} else {
				assert.ErrorIs(t, err, services.ErrTrackingActive)
			}
		}()
	}
	wg.Wait()

	// Assert: one winner, one watcher.
	assert.Equal(t, int64(1), successes)
	mockSource.AssertNumberOfCalls(t, "Watch", 1)

	// The surviving session is the one deactivation reaches.
	tracker.Deactivate("owner-1")
	status, _ := tracker.Status("owner-1")
	assert.Equal(t, models.TrackingInactive, status.State)
	mockWatcher.AssertCalled(t, "Stop")
}

// TestTrackerService_Deactivate_Idempotent tests that deactivation is safe to
// repeat and safe for unknown owners.
func TestTrackerService_Deactivate_Idempotent(t *testing.T) {
	// Setup
	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	mockWatcher := new(mocks.MockWatcher)
	tracker, _ := newTrackerService(services.ModeContinuous, mockSource, mockStore)

	updates := make(chan position.Sample)
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Watch", mock.Anything, mock.Anything).Return(mockWatcher, nil)
	mockWatcher.On("Updates").Return((<-chan position.Sample)(updates))
	mockWatcher.On("Stop").Return()

	err := tracker.Activate("owner-1")
	assert.NoError(t, err)

	// Execute
	tracker.Deactivate("owner-1")
	tracker.Deactivate("owner-1")
	tracker.Deactivate("never-activated")

	// Assert
	status, known := tracker.Status("owner-1")
	assert.True(t, known)
	assert.Equal(t, models.TrackingInactive, status.State)
}
