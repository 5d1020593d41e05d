package storage

import (
	"time"

	"github.com/google/uuid"
)

type FirmwareStatus string

const (
	FirmwareUpToDate      FirmwareStatus = "UP_TO_DATE"
	FirmwareUpdatePending FirmwareStatus = "UPDATE_PENDING"
)

type ArtifactStatus string

const (
	ArtifactDraft    ArtifactStatus = "DRAFT"
	ArtifactReleased ArtifactStatus = "RELEASED"
)

type DeploymentStatus string

const (
	DeploymentInitiated DeploymentStatus = "INITIATED"
	// Reserved for device-side acknowledgement; nothing in this service writes them yet.
	DeploymentDownloading DeploymentStatus = "DOWNLOADING"
	DeploymentInstalled   DeploymentStatus = "INSTALLED"
	DeploymentFailed      DeploymentStatus = "FAILED"
)

type DeploymentTrigger string

const (
	TriggerAuto   DeploymentTrigger = "AUTO"
	TriggerDeploy DeploymentTrigger = "DEPLOY"
	// TriggerForce labels forced rollouts in events and metrics. A forced
	// rollout writes no deployment record, so it is never persisted.
	TriggerForce DeploymentTrigger = "FORCE"
)

type Device struct {
	DeviceID          string         `json:"deviceId"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	ModelType         string         `json:"modelType"`
	FirmwareVersion   string         `json:"firmwareVersion"`
	FirmwareStatus    FirmwareStatus `json:"firmwareStatus"`
	Paired            bool           `json:"paired"`
	PairedAt          *time.Time     `json:"pairedAt"`
	LastSeenAt        time.Time      `json:"lastSeenAt"`
	AutoUpdate        bool           `json:"autoUpdate"`
	RoomID            *uuid.UUID     `json:"roomId"`
	BatteryVoltage    *float64       `json:"batteryVoltage"`
	BatteryPercentage *float64       `json:"batteryPercentage"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// DeviceRegistration is the payload of a device self-registration.
type DeviceRegistration struct {
	DeviceID          string
	FirmwareVersion   string
	ModelType         string
	BatteryVoltage    *float64
	BatteryPercentage *float64
	SeenAt            time.Time
}

// DevicePairing carries the optional attributes set when a device is paired.
type DevicePairing struct {
	DeviceID    string
	Name        *string
	Description *string
	RoomID      *uuid.UUID
	PairedAt    time.Time
}

type FirmwareArtifact struct {
	ID           uuid.UUID      `json:"id"`
	Version      string         `json:"version"`
	ModelType    string         `json:"modelType"`
	Status       ArtifactStatus `json:"status"`
	ReleaseNotes string         `json:"releaseNotes"`
	Filename     string         `json:"filename"`
	Size         int64          `json:"size"`
	StoragePath  string         `json:"-"`
	Checksum     string         `json:"checksum"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type Deployment struct {
	ID         uuid.UUID         `json:"id"`
	DeviceID   string            `json:"deviceId"`
	FirmwareID uuid.UUID         `json:"firmwareId"`
	Status     DeploymentStatus  `json:"status"`
	Trigger    DeploymentTrigger `json:"trigger"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type Room struct {
	ID      uuid.UUID `json:"id"`
	TeamID  uuid.UUID `json:"teamId"`
	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"-"`
}

type MachineToken struct {
	ID          uuid.UUID  `json:"id"`
	TokenHash   string     `json:"-"` // Never expose
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedBy   *uuid.UUID `json:"created_by"`
}
