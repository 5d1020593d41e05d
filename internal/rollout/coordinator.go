// Package rollout decides when a device is due for a firmware update and
// records the rollouts it starts.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/firmware"
	"github.com/KevinKickass/OpenFacilityCore/internal/metrics"
	"github.com/KevinKickass/OpenFacilityCore/internal/registry"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notice describes a committed rollout.
type Notice struct {
	DeviceID     string                    `json:"deviceId"`
	FirmwareID   uuid.UUID                 `json:"firmwareId"`
	Version      string                    `json:"version"`
	ModelType    string                    `json:"modelType"`
	Size         int64                     `json:"size"`
	Checksum     string                    `json:"checksum"`
	Trigger      storage.DeploymentTrigger `json:"trigger"`
	DeploymentID *uuid.UUID                `json:"deploymentId,omitempty"`
	At           time.Time                 `json:"at"`
}

// Notifier is told about every committed rollout. Failures are logged and
// never undo the rollout.
type Notifier interface {
	NotifyRollout(ctx context.Context, n Notice) error
}

type Coordinator struct {
	store    storage.Store
	registry *registry.Registry
	catalog  *firmware.Catalog
	cfg      config.FirmwareConfig
	logger   *zap.Logger

	notifiers []Notifier
}

func NewCoordinator(store storage.Store, reg *registry.Registry, catalog *firmware.Catalog, cfg config.FirmwareConfig, logger *zap.Logger) *Coordinator {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = config.DefaultModelType
	}
	return &Coordinator{
		store:    store,
		registry: reg,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger,
	}
}

// AddNotifier registers a receiver for rollout notices. Not safe to call
// once requests are being served.
func (c *Coordinator) AddNotifier(n Notifier) {
	c.notifiers = append(c.notifiers, n)
}

// CheckResult is the answer to a device check-in.
type CheckResult struct {
	UpdateAvailable     bool       `json:"updateAvailable"`
	AutoUpdateTriggered bool       `json:"autoUpdateTriggered"`
	LatestVersion       string     `json:"latestVersion"`
	ReleaseNotes        string     `json:"releaseNotes"`
	Size                int64      `json:"size"`
	Message             string     `json:"message"`
	FirmwareID          *uuid.UUID `json:"firmwareId,omitempty"`
	Checksum            string     `json:"checksum,omitempty"`
}

// ActionResult is the answer to an operator rollout.
type ActionResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	FirmwareVersion string `json:"firmwareVersion"`
}

// CheckForUpdate handles a device check-in. An empty modelType falls back to
// the model stored for the device, then to the configured default.
func (c *Coordinator) CheckForUpdate(ctx context.Context, deviceID, currentVersion, modelType string) (*CheckResult, error) {
	if deviceID == "" {
		return nil, types.Validation("missing required fields",
			types.FieldError{Field: "deviceId", Message: "required"})
	}

	device, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if currentVersion == "" {
		currentVersion = device.FirmwareVersion
	}
	modelType = c.resolveModel(modelType, device)

	if err := c.registry.MarkSeen(ctx, deviceID); err != nil {
		return nil, err
	}

	latest, err := c.catalog.LatestReleased(ctx, modelType)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			metrics.CheckinsTotal.WithLabelValues("no_firmware").Inc()
			return &CheckResult{Message: fmt.Sprintf("No firmware available for model %s", modelType)}, nil
		}
		return nil, err
	}

	result := &CheckResult{
		LatestVersion: latest.Version,
		ReleaseNotes:  latest.ReleaseNotes,
		Size:          latest.Size,
		FirmwareID:    &latest.ID,
		Checksum:      latest.Checksum,
	}

	p := &plan{
		device:         device,
		artifact:       latest,
		currentVersion: currentVersion,
		trigger:        storage.TriggerAuto,
		record:         true,
	}
	m := c.newMachine()

	due, err := fire(ctx, m, EventCompare, p)
	if err != nil {
		return nil, err
	}
	if !due {
		metrics.CheckinsTotal.WithLabelValues("up_to_date").Inc()
		result.Message = "Device is up to date"
		return result, nil
	}
	result.UpdateAvailable = true

	triggered, err := fire(ctx, m, EventTrigger, p)
	if err != nil {
		return nil, err
	}
	if !triggered {
		metrics.CheckinsTotal.WithLabelValues("update_available").Inc()
		result.Message = fmt.Sprintf("Update available: %s", latest.Version)
		return result, nil
	}

	metrics.CheckinsTotal.WithLabelValues("auto_triggered").Inc()
	result.AutoUpdateTriggered = true
	result.Message = fmt.Sprintf("Update to %s triggered", latest.Version)
	c.notify(ctx, p)
	return result, nil
}

// ForceUpdate marks a device as due for the latest release of its model,
// skipping the version comparison. It writes no deployment record.
func (c *Coordinator) ForceUpdate(ctx context.Context, deviceID string) (*ActionResult, error) {
	device, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	modelType := c.resolveModel("", device)
	latest, err := c.catalog.LatestReleased(ctx, modelType)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.NotFound("no firmware available for model %s", modelType)
		}
		return nil, err
	}

	p := &plan{
		device:   device,
		artifact: latest,
		trigger:  storage.TriggerForce,
	}
	if _, err := fire(ctx, c.newMachine(), EventForce, p); err != nil {
		return nil, err
	}
	c.notify(ctx, p)

	return &ActionResult{
		Success:         true,
		Message:         fmt.Sprintf("Update to %s forced for device %s", latest.Version, deviceID),
		FirmwareVersion: latest.Version,
	}, nil
}

// DeploySpecific rolls an exact artifact out to a device. A DRAFT artifact
// is released as part of the same transaction.
func (c *Coordinator) DeploySpecific(ctx context.Context, deviceID string, firmwareID uuid.UUID) (*ActionResult, error) {
	var fields []types.FieldError
	if deviceID == "" {
		fields = append(fields, types.FieldError{Field: "deviceId", Message: "required"})
	}
	if firmwareID == uuid.Nil {
		fields = append(fields, types.FieldError{Field: "firmwareId", Message: "required"})
	}
	if len(fields) > 0 {
		return nil, types.Validation("missing required fields", fields...)
	}

	device, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	artifact, err := c.catalog.Get(ctx, firmwareID)
	if err != nil {
		return nil, err
	}

	p := &plan{
		device:   device,
		artifact: artifact,
		trigger:  storage.TriggerDeploy,
		record:   true,
		promote:  artifact.Status == storage.ArtifactDraft,
	}
	if _, err := fire(ctx, c.newMachine(), EventForce, p); err != nil {
		return nil, err
	}
	c.notify(ctx, p)

	return &ActionResult{
		Success:         true,
		Message:         fmt.Sprintf("Firmware %s deployed to device %s", artifact.Version, deviceID),
		FirmwareVersion: artifact.Version,
	}, nil
}

// apply writes a rollout: optional promotion, UPDATE_PENDING and the
// deployment record commit or fail together.
func (c *Coordinator) apply(ctx context.Context, p *plan) error {
	err := c.store.WithTx(ctx, func(q storage.Querier) error {
		if p.promote {
			if err := c.catalog.PromoteTx(ctx, q, p.artifact.ID); err != nil {
				return err
			}
		}
		if err := c.registry.SetFirmwareStatusTx(ctx, q, p.device.DeviceID, storage.FirmwareUpdatePending); err != nil {
			return err
		}
		if !p.record {
			return nil
		}
		d := &storage.Deployment{
			ID:         uuid.New(),
			DeviceID:   p.device.DeviceID,
			FirmwareID: p.artifact.ID,
			Status:     storage.DeploymentInitiated,
			Trigger:    p.trigger,
		}
		if err := q.CreateDeployment(ctx, d); err != nil {
			return fmt.Errorf("failed to record deployment: %w", err)
		}
		p.deployment = d
		return nil
	})
	if err != nil {
		c.logger.Error("Rollout failed",
			zap.String("device_id", p.device.DeviceID),
			zap.String("firmware_id", p.artifact.ID.String()),
			zap.String("trigger", string(p.trigger)),
			zap.Error(err))
		return err
	}

	metrics.RolloutsTotal.WithLabelValues(strings.ToLower(string(p.trigger))).Inc()
	c.logger.Info("Rollout started",
		zap.String("device_id", p.device.DeviceID),
		zap.String("version", p.artifact.Version),
		zap.String("trigger", string(p.trigger)),
		zap.Bool("released", p.promote))
	return nil
}

func (c *Coordinator) notify(ctx context.Context, p *plan) {
	if len(c.notifiers) == 0 {
		return
	}

	n := Notice{
		DeviceID:   p.device.DeviceID,
		FirmwareID: p.artifact.ID,
		Version:    p.artifact.Version,
		ModelType:  p.artifact.ModelType,
		Size:       p.artifact.Size,
		Checksum:   p.artifact.Checksum,
		Trigger:    p.trigger,
		At:         time.Now(),
	}
	if p.deployment != nil {
		n.DeploymentID = &p.deployment.ID
		n.At = p.deployment.CreatedAt
	}

	for _, notifier := range c.notifiers {
		if err := notifier.NotifyRollout(ctx, n); err != nil {
			c.logger.Warn("Rollout notification failed",
				zap.String("device_id", n.DeviceID),
				zap.Error(err))
		}
	}
}

func (c *Coordinator) resolveModel(requested string, device *storage.Device) string {
	switch {
	case requested != "":
		return requested
	case device.ModelType != "":
		return device.ModelType
	default:
		return c.cfg.DefaultModel
	}
}
