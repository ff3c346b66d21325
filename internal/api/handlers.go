package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/services"
	"github.com/ryanhale/tracksync/internal/store"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token   string `json:"token"`
	OwnerID string `json:"owner_id"`
	Email   string `json:"email"`
}

type pairDeviceRequest struct {
	DeviceID    string `json:"device_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	principal, err := s.store.CreateAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	s.respondWithSession(w, principal)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	principal, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	s.respondWithSession(w, principal)
}

func (s *Server) respondWithSession(w http.ResponseWriter, principal models.Principal) {
	token := uuid.New().String()
	s.sessions.Set(token, principal)
	writeJSON(w, http.StatusOK, authResponse{
		Token:   token,
		OwnerID: principal.OwnerID,
		Email:   principal.Email,
	})
}

func (s *Server) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	if err := s.tracker.Activate(principal.OwnerID); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidOwnerID):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, services.ErrTrackingActive):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, errorStatus(err), err)
		}
		return
	}

	status, _ := s.tracker.Status(principal.OwnerID)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	s.tracker.Deactivate(principal.OwnerID)
	status, _ := s.tracker.Status(principal.OwnerID)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTrackingStatus(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	status, _ := s.tracker.Status(principal.OwnerID)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) filterFromRequest(r *http.Request) store.Filter {
	principal := principalFromContext(r.Context())
	if r.URL.Query().Get("all") == "true" {
		// Operator view over every owner.
		return store.Filter{}
	}
	return store.Filter{OwnerID: principal.OwnerID}
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	samples, err := s.store.Locations(r.Context(), s.filterFromRequest(r))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleLocationStream serves the live feed over server-sent events. The
// feed is unsubscribed when the client disconnects; an abandoned stream
// must not leak a store subscription.
func (s *Server) handleLocationStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	principal := principalFromContext(r.Context())
	feed, err := s.feed.Subscribe(r.Context(), principal, s.filterFromRequest(r))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	defer feed.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(snapshot []models.LocationSample) bool {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to serialize feed snapshot")
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(feed.Snapshot()) {
		return
	}

	for {
		select {
		case snapshot, ok := <-feed.Updates():
			if !ok {
				return
			}
			if !writeEvent(snapshot) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	var req pairDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	principal := principalFromContext(r.Context())
	device, err := s.pairing.Pair(r.Context(), principal, req.DeviceID, req.DisplayName)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	devices, err := s.pairing.Devices(r.Context(), principal)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrInvalidOwnerID):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
