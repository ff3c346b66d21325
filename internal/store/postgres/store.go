package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/store"
)

// Store is the Postgres-backed remote store. Location documents are keyed
// by owner id and overwritten on every persist; change notifications reach
// subscribers through the notify listener.
type Store struct {
	db       *gorm.DB
	notifier *notifier
	logger   zerolog.Logger
}

// NewStore creates a Store on an open connection. The notifier must be
// started before subscriptions deliver updates.
func NewStore(conn *DB, dsn string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:     conn.GetDB(),
		logger: logger,
	}

	n, err := newNotifier(conn.GetDB(), dsn, s.queryLocations, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up change notifier: %w", err)
	}
	s.notifier = n
	return s, nil
}

// Start begins dispatching change notifications to subscribers.
func (s *Store) Start() error {
	return s.notifier.Start()
}

// Stop tears down the change notifier and all open subscriptions.
func (s *Store) Stop() {
	s.notifier.Stop()
}

// CreateAccount registers a new principal with a bcrypt-hashed password.
func (s *Store) CreateAccount(ctx context.Context, email, password string) (models.Principal, error) {
	if email == "" || password == "" {
		return models.Principal{}, fmt.Errorf("email and password are required: %w", models.ErrUnauthenticated)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Principal{}, err
	}

	account := models.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return models.Principal{}, fmt.Errorf("failed to create account: %w", models.ErrStoreUnavailable)
	}

	s.logger.Info().Str("email", email).Str("owner_id", account.ID).Msg("Account created")
	return models.Principal{OwnerID: account.ID, Email: account.Email}, nil
}

// Authenticate resolves a principal from credentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (models.Principal, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Principal{}, models.ErrUnauthenticated
	} else if err != nil {
		return models.Principal{}, fmt.Errorf("failed to look up account: %w", models.ErrStoreUnavailable)
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return models.Principal{}, models.ErrUnauthenticated
	}
	return models.Principal{OwnerID: account.ID, Email: account.Email}, nil
}

// PutLocation upserts the latest sample for its owner. When the sample
// carries a device id the paired device row is refreshed as well.
func (s *Store) PutLocation(ctx context.Context, sample models.LocationSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		UpdateAll: true,
	}).Create(&sample).Error
	if err != nil {
		return fmt.Errorf("failed to persist location for %s: %w", sample.OwnerID, models.ErrStoreUnavailable)
	}

	if sample.DeviceID != "" {
		err := s.db.WithContext(ctx).Model(&models.Device{}).
			Where("id = ?", sample.DeviceID).
			Update("last_seen", sample.CapturedAt).Error
		if err != nil {
			s.logger.Warn().Err(err).Str("device_id", sample.DeviceID).Msg("Failed to refresh device last_seen")
		}
	}
	return nil
}

// Locations returns the records matching the filter.
func (s *Store) Locations(ctx context.Context, filter store.Filter) ([]models.LocationSample, error) {
	return s.queryLocations(ctx, filter)
}

func (s *Store) queryLocations(ctx context.Context, filter store.Filter) ([]models.LocationSample, error) {
	q := s.db.WithContext(ctx).Order("owner_id")
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}

	var samples []models.LocationSample
	if err := q.Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", models.ErrStoreUnavailable)
	}
	return samples, nil
}

// SaveDevice registers or refreshes a paired device.
func (s *Store) SaveDevice(ctx context.Context, device *models.Device) error {
	if device.OwnerID == "" {
		return models.ErrInvalidOwnerID
	}
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.PairedAt.IsZero() {
		device.PairedAt = time.Now()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(device).Error
	if err != nil {
		return fmt.Errorf("failed to save device %s: %w", device.ID, models.ErrStoreUnavailable)
	}
	return nil
}

// DevicesByOwner lists the devices paired under an owner, each carrying the
// owner's last known position when one exists.
func (s *Store) DevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("paired_at").Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", models.ErrStoreUnavailable)
	}

	var latest models.LocationSample
	err = s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&latest).Error
	if err == nil {
		for i := range devices {
			if devices[i].ID == latest.DeviceID {
				devices[i].LastKnownPosition = &latest
			}
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Failed to resolve last known position")
	}
	return devices, nil
}

// SubscribeLocations opens a live result set for the filter.
func (s *Store) SubscribeLocations(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	snapshot, err := s.queryLocations(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.notifier.subscribe(filter, snapshot), nil
}

// MinAgentVersion returns the minimum agent version the backend accepts.
// Backends that never set the value accept any agent.
func (s *Store) MinAgentVersion(ctx context.Context) (string, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where("key = ?", models.SettingMinAgentVersion).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "0.0.0", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to read settings: %w", models.ErrStoreUnavailable)
	}
	return setting.Value, nil
}
