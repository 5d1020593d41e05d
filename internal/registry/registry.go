// Package registry tracks device identity, reported firmware and pairing.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/metrics"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Registry struct {
	store  storage.Store
	logger *zap.Logger
	now    func() time.Time
}

func New(store storage.Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for lastSeenAt and pairedAt.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Registration is what a device reports about itself.
type Registration struct {
	DeviceID          string
	FirmwareVersion   string
	ModelType         string
	BatteryVoltage    *float64
	BatteryPercentage *float64
}

func (reg Registration) validate() error {
	var fields []types.FieldError
	if reg.DeviceID == "" {
		fields = append(fields, types.FieldError{Field: "deviceId", Message: "required"})
	}
	if reg.FirmwareVersion == "" {
		fields = append(fields, types.FieldError{Field: "firmwareVersion", Message: "required"})
	}
	if p := reg.BatteryPercentage; p != nil && (*p < 0 || *p > 100) {
		fields = append(fields, types.FieldError{Field: "batteryPercentage", Message: "must be between 0 and 100"})
	}
	if v := reg.BatteryVoltage; v != nil && *v < 0 {
		fields = append(fields, types.FieldError{Field: "batteryVoltage", Message: "must not be negative"})
	}
	if len(fields) > 0 {
		return types.Validation("invalid registration", fields...)
	}
	return nil
}

// RegisterOrUpdate creates the device on first contact and refreshes it
// afterwards. Every call resets the firmware status to UP_TO_DATE, including
// while an update is pending: a device registering again has rebooted.
func (r *Registry) RegisterOrUpdate(ctx context.Context, reg Registration) (*storage.Device, bool, error) {
	if err := reg.validate(); err != nil {
		return nil, false, err
	}

	device, created, err := r.store.UpsertDevice(ctx, storage.DeviceRegistration{
		DeviceID:          reg.DeviceID,
		FirmwareVersion:   reg.FirmwareVersion,
		ModelType:         reg.ModelType,
		BatteryVoltage:    reg.BatteryVoltage,
		BatteryPercentage: reg.BatteryPercentage,
		SeenAt:            r.now(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to register device: %w", err)
	}

	metrics.DeviceRegistrationsTotal.WithLabelValues(strconv.FormatBool(created)).Inc()
	if created {
		r.logger.Info("Device registered",
			zap.String("device_id", device.DeviceID),
			zap.String("model_type", device.ModelType),
			zap.String("firmware_version", device.FirmwareVersion))
	} else {
		r.logger.Debug("Device re-registered",
			zap.String("device_id", device.DeviceID),
			zap.String("firmware_version", device.FirmwareVersion))
	}
	return device, created, nil
}

// PairRequest carries the optional attributes applied when pairing.
type PairRequest struct {
	DeviceID    string
	Name        *string
	Description *string
	RoomID      *uuid.UUID
}

// Pair claims a device for the caller. Assigning a room requires the caller
// to own or belong to the room's team.
func (r *Registry) Pair(ctx context.Context, callerID uuid.UUID, req PairRequest) (*storage.Device, error) {
	if req.DeviceID == "" {
		return nil, types.Validation("invalid pairing request",
			types.FieldError{Field: "device_id", Message: "required"})
	}

	if _, err := r.store.GetDevice(ctx, req.DeviceID); err != nil {
		return nil, err
	}

	if req.RoomID != nil {
		if err := r.checkRoomAccess(ctx, callerID, *req.RoomID); err != nil {
			return nil, err
		}
	}

	device, err := r.store.PairDevice(ctx, storage.DevicePairing{
		DeviceID:    req.DeviceID,
		Name:        req.Name,
		Description: req.Description,
		RoomID:      req.RoomID,
		PairedAt:    r.now(),
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Device paired",
		zap.String("device_id", device.DeviceID),
		zap.String("user_id", callerID.String()))
	return device, nil
}

func (r *Registry) checkRoomAccess(ctx context.Context, callerID, roomID uuid.UUID) error {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID == callerID {
		return nil
	}
	member, err := r.store.IsTeamMember(ctx, room.TeamID, callerID)
	if err != nil {
		return err
	}
	if !member {
		return types.Forbidden("not a member of the team owning this room")
	}
	return nil
}

// MarkSeen records a check-in.
func (r *Registry) MarkSeen(ctx context.Context, deviceID string) error {
	return r.MarkSeenTx(ctx, r.store, deviceID)
}

// MarkSeenTx is MarkSeen on a caller-supplied querier, usually a transaction.
func (r *Registry) MarkSeenTx(ctx context.Context, q storage.Querier, deviceID string) error {
	return q.TouchDevice(ctx, deviceID, r.now())
}

func (r *Registry) SetFirmwareStatus(ctx context.Context, deviceID string, status storage.FirmwareStatus) error {
	return r.SetFirmwareStatusTx(ctx, r.store, deviceID, status)
}

func (r *Registry) SetFirmwareStatusTx(ctx context.Context, q storage.Querier, deviceID string, status storage.FirmwareStatus) error {
	switch status {
	case storage.FirmwareUpToDate, storage.FirmwareUpdatePending:
	default:
		return types.BadRequest("unknown firmware status %q", status)
	}
	return q.SetDeviceFirmwareStatus(ctx, deviceID, status)
}

func (r *Registry) SetAutoUpdate(ctx context.Context, deviceID string, enabled bool) (*storage.Device, error) {
	if err := r.store.SetDeviceAutoUpdate(ctx, deviceID, enabled); err != nil {
		return nil, err
	}
	r.logger.Info("Auto update changed",
		zap.String("device_id", deviceID),
		zap.Bool("enabled", enabled))
	return r.store.GetDevice(ctx, deviceID)
}

func (r *Registry) Get(ctx context.Context, deviceID string) (*storage.Device, error) {
	return r.store.GetDevice(ctx, deviceID)
}

// ListFilter selects devices by pairing state; the zero value lists all.
type ListFilter struct {
	PairedOnly   bool
	UnpairedOnly bool
}

func (r *Registry) List(ctx context.Context, filter ListFilter) ([]*storage.Device, error) {
	if filter.PairedOnly && filter.UnpairedOnly {
		return nil, types.BadRequest("paired and unpaired filters are mutually exclusive")
	}
	return r.store.ListDevices(ctx, filter.PairedOnly, filter.UnpairedOnly)
}

func (r *Registry) ListUnpaired(ctx context.Context) ([]*storage.Device, error) {
	return r.List(ctx, ListFilter{UnpairedOnly: true})
}

// ListDeployments returns a device's deployment history, newest first.
func (r *Registry) ListDeployments(ctx context.Context, deviceID string) ([]*storage.Deployment, error) {
	if _, err := r.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return r.store.ListDeploymentsForDevice(ctx, deviceID)
}
