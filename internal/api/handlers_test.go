package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/services"
	"github.com/ryanhale/tracksync/pkg/position"
	"github.com/ryanhale/tracksync/tests/mocks"
)

func newTestServer(t *testing.T) (*Server, *mocks.MockPositionSource, *mocks.MockStore) {
	t.Helper()

	mockSource := new(mocks.MockPositionSource)
	mockStore := new(mocks.MockStore)
	mockOwnerInfo := new(mocks.MockOwnerInfo)
	mockOwnerInfo.On("GetDeviceID").Return("test-device-id").Maybe()
	mockOwnerInfo.On("GetOwnerID").Return("").Maybe()

	tracker := services.NewTrackerService(services.TrackerConfig{Mode: services.ModeContinuous},
		mockOwnerInfo, mockSource, mockStore, nil, zerolog.Nop())
	feed := services.NewFeedService(mockStore, zerolog.Nop())
	pairing := services.NewPairingService("1.0.0", mockStore, mockOwnerInfo, zerolog.Nop())

	server := NewServer(":0", mockStore, tracker, feed, pairing, zerolog.Nop())
	return server, mockSource, mockStore
}

func requestWithPrincipal(method, target string, principal models.Principal) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(context.WithValue(req.Context(), principalKey, principal))
}

// TestHandleTrackingStart_StatusMapping tests the HTTP status per activation
// outcome: 200 on success, 409 only for an already running session, 400 for
// an unresolved owner.
func TestHandleTrackingStart_StatusMapping(t *testing.T) {
	// Setup
	server, mockSource, _ := newTestServer(t)
	mockWatcher := new(mocks.MockWatcher)

	updates := make(chan position.Sample)
	mockSource.On("RequestPermission", mock.Anything).Return(nil)
	mockSource.On("Watch", mock.Anything, mock.Anything).Return(mockWatcher, nil)
	mockWatcher.On("Updates").Return((<-chan position.Sample)(updates))
	mockWatcher.On("Stop").Return()

	principal := models.Principal{OwnerID: "owner-1"}

	// Execute: first start succeeds.
	rec := httptest.NewRecorder()
	server.handleTrackingStart(rec, requestWithPrincipal(http.MethodPost, "/api/tracking/start", principal))
	assert.Equal(t, http.StatusOK, rec.Code)

	// A second start conflicts with the running session.
	rec = httptest.NewRecorder()
	server.handleTrackingStart(rec, requestWithPrincipal(http.MethodPost, "/api/tracking/start", principal))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// No resolved owner is a bad request, not a conflict.
	rec = httptest.NewRecorder()
	server.handleTrackingStart(rec, requestWithPrincipal(http.MethodPost, "/api/tracking/start", models.Principal{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Cleanup
	rec = httptest.NewRecorder()
	server.handleTrackingStop(rec, requestWithPrincipal(http.MethodPost, "/api/tracking/stop", principal))
	assert.Equal(t, http.StatusOK, rec.Code)
}
