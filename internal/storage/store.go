package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Querier is the set of statements the services run. It is satisfied both by
// a store and by the transaction handle passed to Store.WithTx.
type Querier interface {
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	ListDevices(ctx context.Context, pairedOnly, unpairedOnly bool) ([]*Device, error)
	// UpsertDevice inserts or refreshes a device and reports whether it was created.
	UpsertDevice(ctx context.Context, reg DeviceRegistration) (*Device, bool, error)
	PairDevice(ctx context.Context, p DevicePairing) (*Device, error)
	TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error
	SetDeviceFirmwareStatus(ctx context.Context, deviceID string, status FirmwareStatus) error
	SetDeviceAutoUpdate(ctx context.Context, deviceID string, enabled bool) error
	CountDevicesOnVersion(ctx context.Context, modelType, version string) (int, error)

	CreateFirmware(ctx context.Context, fw *FirmwareArtifact) error
	GetFirmware(ctx context.Context, id uuid.UUID) (*FirmwareArtifact, error)
	FirmwareExists(ctx context.Context, modelType, version string) (bool, error)
	LatestReleasedFirmware(ctx context.Context, modelType string) (*FirmwareArtifact, error)
	ListFirmware(ctx context.Context, modelType string) ([]*FirmwareArtifact, error)
	// PromoteFirmware moves a DRAFT artifact to RELEASED and reports whether it changed.
	PromoteFirmware(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteFirmware(ctx context.Context, id uuid.UUID) error

	CreateDeployment(ctx context.Context, d *Deployment) error
	ListDeploymentsForDevice(ctx context.Context, deviceID string) ([]*Deployment, error)
	DeleteDeploymentsForFirmware(ctx context.Context, firmwareID uuid.UUID) (int64, error)

	GetRoom(ctx context.Context, roomID uuid.UUID) (*Room, error)
	IsTeamMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error)

	CreateMachineToken(ctx context.Context, t *MachineToken) error
	GetMachineTokenByHash(ctx context.Context, tokenHash string) (*MachineToken, error)
	ListMachineTokens(ctx context.Context) ([]*MachineToken, error)
	UpdateMachineTokenLastUsed(ctx context.Context, id uuid.UUID) error
	DeleteMachineToken(ctx context.Context, id uuid.UUID) error
}

// Store is a Querier that can also run a group of statements atomically.
type Store interface {
	Querier
	// WithTx runs fn in a single transaction. The transaction is committed
	// when fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(q Querier) error) error
	Ping(ctx context.Context) error
	Close()
}
