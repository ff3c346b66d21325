package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/store"
	"github.com/ryanhale/tracksync/pkg/identity"
	"github.com/ryanhale/tracksync/pkg/position"
)

// AcquisitionMode selects between a single position read and an open
// position stream.
type AcquisitionMode string

const (
	ModeOneShot    AcquisitionMode = "one_shot"
	ModeContinuous AcquisitionMode = "continuous"
)

// TrackerConfig configures the acquisition behavior shared by all sessions.
type TrackerConfig struct {
	Mode  AcquisitionMode
	Watch position.WatchConfig
}

// ErrTrackingActive is returned when activation finds a session already
// running for the owner.
var ErrTrackingActive = errors.New("tracking is already active for owner")

// TrackerService bridges the position source to the remote store: per
// activated owner it requests permission, acquires positions and persists
// the latest sample under the owner's key. A failed persist never stops the
// session; the failure is recorded and the next update is attempted.
type TrackerService struct {
	config    TrackerConfig
	ownerInfo identity.OwnerInfoInterface
	source    position.Source
	store     store.Store
	history   store.HistoryRecorder
	logger    zerolog.Logger

	// activateMu serializes activation so the liveness check and the
	// session insert are atomic; without it two concurrent activations for
	// one owner could both pass the check and orphan a running session.
	activateMu sync.Mutex
	sessions   cmap.ConcurrentMap[string, *trackingSession]
}

// trackingSession is the ephemeral per-owner state. It is exclusively owned
// by the tracker driving it.
type trackingSession struct {
	ownerID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	watcher position.Watcher

	mu                sync.Mutex
	active            bool
	permissionGranted bool
	lastError         error

	writes uint64
	errors uint64
}

func (s *trackingSession) setError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
	atomic.AddUint64(&s.errors, 1)
}

func (s *trackingSession) setActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

func (s *trackingSession) status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.SessionStatus{
		OwnerID:           s.ownerID,
		State:             models.TrackingInactive,
		PermissionGranted: s.permissionGranted,
		Writes:            atomic.LoadUint64(&s.writes),
		Errors:            atomic.LoadUint64(&s.errors),
	}
	if s.lastError != nil {
		status.LastError = s.lastError.Error()
	}
	if s.active {
		// An active session with a recorded error keeps tracking but must
		// not look healthy to operators.
		status.State = models.TrackingActive
		if s.lastError != nil {
			status.State = models.TrackingError
		}
	}
	return status
}

// NewTrackerService creates a TrackerService. The history recorder may be
// nil when the deployment keeps latest-only data.
func NewTrackerService(config TrackerConfig, ownerInfo identity.OwnerInfoInterface, source position.Source,
	st store.Store, history store.HistoryRecorder, logger zerolog.Logger) *TrackerService {
	return &TrackerService{
		config:    config,
		ownerInfo: ownerInfo,
		source:    source,
		store:     st,
		history:   history,
		logger:    logger,
		sessions:  cmap.New[*trackingSession](),
	}
}

// Start activates tracking for the locally configured owner identity. An
// agent with no resolved owner starts with tracking inactive; activation
// then happens through the presentation boundary after login.
func (t *TrackerService) Start() error {
	ownerID := t.ownerInfo.GetOwnerID()
	if ownerID == "" {
		t.logger.Warn().Msg("No owner identity resolved, tracking stays inactive until activated")
		return nil
	}
	if err := t.Activate(ownerID); err != nil && !errors.Is(err, models.ErrInvalidOwnerID) {
		return err
	}
	return nil
}

// Stop deactivates every active session.
func (t *TrackerService) Stop() error {
	for _, ownerID := range t.sessions.Keys() {
		t.Deactivate(ownerID)
	}
	t.logger.Info().Msg("TrackerService stopped")
	return nil
}

// Activate begins a tracking session for the owner. Activating with an
// empty owner id is a no-op that leaves tracking inactive. Permission and
// position failures are recorded on the session rather than propagated.
func (t *TrackerService) Activate(ownerID string) error {
	if ownerID == "" {
		t.logger.Warn().Msg("Activation ignored: empty owner id")
		return models.ErrInvalidOwnerID
	}

	t.activateMu.Lock()
	defer t.activateMu.Unlock()

	if existing, ok := t.sessions.Get(ownerID); ok {
		existing.mu.Lock()
		active := existing.active
		existing.mu.Unlock()
		if active {
			t.logger.Warn().Str("owner_id", ownerID).Msg("Tracking is already active")
			return ErrTrackingActive
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &trackingSession{
		ownerID: ownerID,
		ctx:     ctx,
		cancel:  cancel,
	}
	t.sessions.Set(ownerID, session)

	if err := t.source.RequestPermission(ctx); err != nil {
		session.setError(models.ErrPermissionDenied)
		t.logger.Warn().Err(err).Str("owner_id", ownerID).
			Msg("Permission denied: location access is required")
		return nil
	}
	session.mu.Lock()
	session.permissionGranted = true
	session.mu.Unlock()

	switch t.config.Mode {
	case ModeContinuous:
		watcher, err := t.source.Watch(ctx, t.config.Watch)
		if err != nil {
			session.setError(t.mapPositionError(err))
			t.logger.Error().Err(err).Str("owner_id", ownerID).Msg("Failed to open position watch")
			return nil
		}
		session.watcher = watcher
		session.setActive(true)

		session.wg.Add(1)
		go func() {
			defer session.wg.Done()
			t.runContinuous(session)
		}()
	default:
		session.setActive(true)

		session.wg.Add(1)
		go func() {
			defer session.wg.Done()
			t.runOneShot(session)
		}()
	}

	t.logger.Info().Str("owner_id", ownerID).Str("mode", string(t.config.Mode)).Msg("Tracking activated")
	return nil
}

// Deactivate ends the owner's session. It is idempotent and a no-op when no
// session exists; in-flight reads and writes complete and their results are
// discarded silently.
func (t *TrackerService) Deactivate(ownerID string) {
	session, ok := t.sessions.Get(ownerID)
	if !ok {
		return
	}

	session.cancel()
	if session.watcher != nil {
		session.watcher.Stop()
	}
	session.wg.Wait()
	session.setActive(false)

	t.logger.Info().Str("owner_id", ownerID).Msg("Tracking deactivated")
}

// Status reports the session state for one owner.
func (t *TrackerService) Status(ownerID string) (models.SessionStatus, bool) {
	session, ok := t.sessions.Get(ownerID)
	if !ok {
		return models.SessionStatus{OwnerID: ownerID, State: models.TrackingInactive}, false
	}
	return session.status(), true
}

// Statuses reports every known session, active or not.
func (t *TrackerService) Statuses() []models.SessionStatus {
	statuses := make([]models.SessionStatus, 0, t.sessions.Count())
	for item := range t.sessions.IterBuffered() {
		statuses = append(statuses, item.Val.status())
	}
	return statuses
}

// runOneShot reads the current position once, persists it and ends the
// session.
func (t *TrackerService) runOneShot(session *trackingSession) {
	defer session.setActive(false)

	sample, err := t.source.Current(session.ctx)
	if err != nil {
		if session.ctx.Err() != nil {
			// Deactivated mid-read; discard silently.
			return
		}
		session.setError(t.mapPositionError(err))
		t.logger.Error().Err(err).Str("owner_id", session.ownerID).Msg("Failed to read current position")
		return
	}
	if session.ctx.Err() != nil {
		// Deactivated while the read was in flight; discard the result.
		return
	}
	t.persist(session, sample)
}

// runContinuous persists every gated update in the order the source emits
// them, until the session is deactivated.
func (t *TrackerService) runContinuous(session *trackingSession) {
	defer session.setActive(false)

	for {
		select {
		case sample, ok := <-session.watcher.Updates():
			if !ok {
				t.logger.Info().Str("owner_id", session.ownerID).Msg("Position stream ended")
				return
			}
			t.persist(session, sample)
		case <-session.ctx.Done():
			return
		}
	}
}

// persist writes one sample under the owner's key. Failures are fail-open:
// recorded, logged and the session keeps going.
func (t *TrackerService) persist(session *trackingSession, sample position.Sample) {
	record := models.LocationSample{
		OwnerID:    session.ownerID,
		DeviceID:   t.ownerInfo.GetDeviceID(),
		Latitude:   sample.Latitude,
		Longitude:  sample.Longitude,
		Accuracy:   sample.Accuracy,
		CapturedAt: sample.CapturedAt,
	}
	if record.CapturedAt.IsZero() {
		record.CapturedAt = time.Now()
	}

	if err := t.store.PutLocation(session.ctx, record); err != nil {
		if session.ctx.Err() != nil {
			return
		}
		session.setError(err)
		t.logger.Error().Err(err).Str("owner_id", session.ownerID).Msg("Failed to persist location")
		return
	}
	atomic.AddUint64(&session.writes, 1)

	if t.history != nil {
		if err := t.history.Record(session.ctx, record); err != nil {
			t.logger.Error().Err(err).Str("owner_id", session.ownerID).Msg("Failed to append location history")
		}
	}

	t.logger.Debug().
		Str("owner_id", session.ownerID).
		Float64("latitude", record.Latitude).
		Float64("longitude", record.Longitude).
		Time("captured_at", record.CapturedAt).
		Msg("Location persisted")
}

func (t *TrackerService) mapPositionError(err error) error {
	switch {
	case errors.Is(err, position.ErrPermissionDenied):
		return models.ErrPermissionDenied
	case errors.Is(err, position.ErrUnavailable):
		return models.ErrPositionUnavailable
	default:
		return err
	}
}
