package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/store"
	"github.com/ryanhale/tracksync/pkg/identity"
)

// PairingService registers discovered devices under an owner. The discovery
// and connection handshake itself belongs to the platform pairing layer;
// this service only records the result and gates it on backend
// compatibility.
type PairingService struct {
	agentVersion string
	store        store.Store
	ownerInfo    identity.OwnerInfoInterface
	logger       zerolog.Logger
}

// NewPairingService creates a PairingService.
func NewPairingService(agentVersion string, st store.Store, ownerInfo identity.OwnerInfoInterface,
	logger zerolog.Logger) *PairingService {
	return &PairingService{
		agentVersion: agentVersion,
		store:        st,
		ownerInfo:    ownerInfo,
		logger:       logger,
	}
}

// Pair registers a device under the principal. Devices without an id from
// the discovery layer get a generated one. The backend's minimum agent
// version is enforced before anything is written.
func (p *PairingService) Pair(ctx context.Context, principal models.Principal, deviceID, displayName string) (*models.Device, error) {
	if principal.OwnerID == "" {
		return nil, models.ErrUnauthenticated
	}

	if err := p.checkCompatibility(ctx); err != nil {
		return nil, err
	}

	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	device := &models.Device{
		ID:          deviceID,
		DisplayName: displayName,
		OwnerID:     principal.OwnerID,
		PairedAt:    time.Now(),
	}
	if err := p.store.SaveDevice(ctx, device); err != nil {
		return nil, err
	}

	// A device paired by the local owner becomes the device this agent
	// reports under.
	if principal.OwnerID == p.ownerInfo.GetOwnerID() {
		if err := p.ownerInfo.SaveDeviceID(device.ID); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to persist paired device id locally")
		}
	}

	p.logger.Info().
		Str("device_id", device.ID).
		Str("owner_id", principal.OwnerID).
		Msg("Device paired")
	return device, nil
}

// Devices lists the principal's paired devices.
func (p *PairingService) Devices(ctx context.Context, principal models.Principal) ([]models.Device, error) {
	if principal.OwnerID == "" {
		return nil, models.ErrUnauthenticated
	}
	return p.store.DevicesByOwner(ctx, principal.OwnerID)
}

// checkCompatibility compares the agent version against the backend's
// minimum.
func (p *PairingService) checkCompatibility(ctx context.Context) error {
	minVersion, err := p.store.MinAgentVersion(ctx)
	if err != nil {
		return err
	}

	required, err := semver.NewVersion(minVersion)
	if err != nil {
		p.logger.Warn().Err(err).Str("min_version", minVersion).Msg("Backend advertises unparsable minimum version")
		return nil
	}
	current, err := semver.NewVersion(p.agentVersion)
	if err != nil {
		return fmt.Errorf("invalid agent version %q: %w", p.agentVersion, err)
	}

	if current.LessThan(required) {
		return fmt.Errorf("agent version %s is older than backend minimum %s", current, required)
	}
	return nil
}
