package identity

import (
	"encoding/json"
	"os"

	"github.com/ryanhale/tracksync/pkg/file"
)

// Identity holds the owner the agent tracks for and the paired device it
// runs on. The owner id is the stable principal identifier every location
// record is keyed by.
type Identity struct {
	OwnerID  string          `json:"owner_id,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Name     string          `json:"device_name,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// OwnerInfoInterface defines methods for managing the local identity file.
type OwnerInfoInterface interface {
	LoadIdentity() error
	SaveOwnerID(ownerID string) error
	SaveDeviceID(deviceID string) error
	GetOwnerID() string
	GetDeviceID() string
	GetIdentity() *Identity
}

// OwnerInfo manages the identity and its associated file operations.
type OwnerInfo struct {
	IdentityFile string
	Identity     Identity
	fileOps      file.FileOperations
}

// NewOwnerInfo initializes a new OwnerInfo instance.
func NewOwnerInfo(filePath string, fileOps file.FileOperations) OwnerInfoInterface {
	return &OwnerInfo{
		IdentityFile: filePath,
		fileOps:      fileOps,
		Identity:     Identity{},
	}
}

// LoadIdentity reads the identity file and populates the Identity field.
func (o *OwnerInfo) LoadIdentity() error {
	err := o.fileOps.ReadJsonFile(o.IdentityFile, &o.Identity)
	if err != nil {
		if os.IsNotExist(err) {
			// First run, start with an empty identity.
			o.Identity = Identity{}
			return nil
		}
		return err
	}
	return nil
}

// GetIdentity returns the current Identity.
func (o *OwnerInfo) GetIdentity() *Identity {
	return &o.Identity
}

// GetOwnerID returns the current owner id.
func (o *OwnerInfo) GetOwnerID() string {
	return o.Identity.OwnerID
}

// GetDeviceID returns the paired device id, if any.
func (o *OwnerInfo) GetDeviceID() string {
	return o.Identity.DeviceID
}

// SaveOwnerID updates the owner id and writes the identity back to disk.
func (o *OwnerInfo) SaveOwnerID(ownerID string) error {
	o.Identity.OwnerID = ownerID
	return o.fileOps.WriteJsonFile(o.IdentityFile, o.Identity)
}

// SaveDeviceID updates the paired device id and writes the identity back to disk.
func (o *OwnerInfo) SaveDeviceID(deviceID string) error {
	o.Identity.DeviceID = deviceID
	return o.fileOps.WriteJsonFile(o.IdentityFile, o.Identity)
}
