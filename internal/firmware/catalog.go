// Package firmware manages uploaded firmware artifacts and their binaries.
package firmware

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/blob"
	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/hwmodel"
	"github.com/KevinKickass/OpenFacilityCore/internal/metrics"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Catalog struct {
	store  storage.Store
	blobs  blob.Provider
	models *hwmodel.Registry
	cfg    config.FirmwareConfig
	logger *zap.Logger
}

// NewCatalog creates a catalog. models may be nil when no hardware model
// profiles are configured.
func NewCatalog(store storage.Store, blobs blob.Provider, models *hwmodel.Registry, cfg config.FirmwareConfig, logger *zap.Logger) *Catalog {
	return &Catalog{
		store:  store,
		blobs:  blobs,
		models: models,
		cfg:    cfg,
		logger: logger,
	}
}

type UploadRequest struct {
	Version      string
	ModelType    string
	ReleaseNotes string
	Filename     string
	// Size is the declared content length, or -1 if unknown.
	Size    int64
	Content io.Reader
}

// DeleteResult reports how many devices currently run the deleted version.
// The count is informational; deletion never waits for those devices.
type DeleteResult struct {
	Message         string `json:"message"`
	DevicesAffected int    `json:"devicesAffected"`
}

var errTooLarge = errors.New("firmware binary exceeds size limit")

// Upload stores the binary and inserts its metadata as DRAFT.
func (c *Catalog) Upload(ctx context.Context, req UploadRequest) (fw *storage.FirmwareArtifact, err error) {
	defer func() {
		metrics.FirmwareUploadsTotal.WithLabelValues(metrics.Status(err)).Inc()
	}()

	version := NormalizeVersion(req.Version)
	var fields []types.FieldError
	if version == "" {
		fields = append(fields, types.FieldError{Field: "version", Message: "required"})
	}
	if req.ModelType == "" {
		fields = append(fields, types.FieldError{Field: "modelType", Message: "required"})
	}
	if req.Content == nil {
		fields = append(fields, types.FieldError{Field: "file", Message: "required"})
	}
	if len(fields) > 0 {
		return nil, types.Validation("missing required fields", fields...)
	}

	limit := c.sizeLimit(req.ModelType)
	if c.cfg.RequireKnownModel && c.models != nil && c.models.Len() > 0 && !c.models.Known(req.ModelType) {
		return nil, types.Validation("unknown model type",
			types.FieldError{Field: "modelType", Message: fmt.Sprintf("%q is not a known hardware model", req.ModelType)})
	}
	if req.Size > limit {
		return nil, types.BadRequest("firmware binary is %d bytes, limit for %s is %d", req.Size, req.ModelType, limit)
	}

	exists, err := c.store.FirmwareExists(ctx, req.ModelType, version)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, types.Conflict("firmware %s already exists for model %s", version, req.ModelType)
	}

	key := blob.Key(req.ModelType, version)
	staging := blob.StagingKey(req.ModelType)
	hasher := md5.New()
	counter := &limitWriter{limit: limit}
	body := io.TeeReader(req.Content, io.MultiWriter(hasher, counter))

	if err := c.blobs.Put(ctx, staging, body, req.Size); err != nil {
		if errors.Is(err, errTooLarge) || counter.n > limit {
			return nil, types.BadRequest("firmware binary exceeds the %d byte limit", limit)
		}
		return nil, fmt.Errorf("failed to store firmware binary: %w", err)
	}

	filename := req.Filename
	if filename == "" {
		filename = path.Base(key)
	}

	fw = &storage.FirmwareArtifact{
		ID:           uuid.New(),
		Version:      version,
		ModelType:    req.ModelType,
		Status:       storage.ArtifactDraft,
		ReleaseNotes: req.ReleaseNotes,
		Filename:     filename,
		Size:         counter.n,
		StoragePath:  key,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
	}

	// The binary reaches its final key only after the insert holds the
	// (model, version) slot, so an upload losing that race leaves the
	// existing artifact's binary alone.
	moved := false
	err = c.store.WithTx(ctx, func(q storage.Querier) error {
		if err := q.CreateFirmware(ctx, fw); err != nil {
			return err
		}
		if err := c.blobs.Move(ctx, staging, key); err != nil {
			return fmt.Errorf("failed to publish firmware binary: %w", err)
		}
		moved = true
		return nil
	})
	if err != nil {
		c.removeBlob(ctx, staging)
		if moved {
			c.removeBlob(ctx, key)
		}
		return nil, err
	}

	metrics.FirmwareUploadBytes.Observe(float64(fw.Size))
	c.logger.Info("Firmware uploaded",
		zap.String("firmware_id", fw.ID.String()),
		zap.String("model_type", fw.ModelType),
		zap.String("version", fw.Version),
		zap.Int64("size", fw.Size),
		zap.String("checksum", fw.Checksum))

	return fw, nil
}

func (c *Catalog) sizeLimit(modelType string) int64 {
	limit := c.cfg.MaxUploadSize
	if limit <= 0 {
		limit = config.DefaultMaxUploadSize
	}
	if c.models != nil {
		if m, ok := c.models.Get(modelType); ok && m.Firmware.MaxSizeBytes > 0 && m.Firmware.MaxSizeBytes < limit {
			limit = m.Firmware.MaxSizeBytes
		}
	}
	return limit
}

// LatestReleased returns the newest RELEASED artifact for a model.
func (c *Catalog) LatestReleased(ctx context.Context, modelType string) (*storage.FirmwareArtifact, error) {
	return c.store.LatestReleasedFirmware(ctx, modelType)
}

// Promote moves a DRAFT artifact to RELEASED; it is a no-op for released ones.
func (c *Catalog) Promote(ctx context.Context, id uuid.UUID) error {
	return promote(ctx, c.store, id, c.logger)
}

// PromoteTx is Promote inside a caller's transaction.
func (c *Catalog) PromoteTx(ctx context.Context, q storage.Querier, id uuid.UUID) error {
	return promote(ctx, q, id, c.logger)
}

func promote(ctx context.Context, q storage.Querier, id uuid.UUID, logger *zap.Logger) error {
	changed, err := q.PromoteFirmware(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to promote firmware: %w", err)
	}
	if changed {
		logger.Info("Firmware released", zap.String("firmware_id", id.String()))
	}
	return nil
}

// Delete removes an artifact, its deployment records and, best effort, its binary.
func (c *Catalog) Delete(ctx context.Context, id uuid.UUID) (*DeleteResult, error) {
	fw, err := c.store.GetFirmware(ctx, id)
	if err != nil {
		return nil, err
	}

	affected, err := c.store.CountDevicesOnVersion(ctx, fw.ModelType, fw.Version)
	if err != nil {
		return nil, err
	}

	c.removeBlob(ctx, fw.StoragePath)

	var removed int64
	err = c.store.WithTx(ctx, func(q storage.Querier) error {
		n, err := q.DeleteDeploymentsForFirmware(ctx, id)
		if err != nil {
			return err
		}
		removed = n
		return q.DeleteFirmware(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Firmware deleted",
		zap.String("firmware_id", id.String()),
		zap.String("version", fw.Version),
		zap.Int64("deployments_removed", removed),
		zap.Int("devices_affected", affected))

	msg := fmt.Sprintf("Firmware %s deleted", fw.Version)
	if affected > 0 {
		msg = fmt.Sprintf("Firmware %s deleted; %d device(s) still report this version", fw.Version, affected)
	}
	return &DeleteResult{Message: msg, DevicesAffected: affected}, nil
}

// removeBlob deletes a binary and only logs failures.
func (c *Catalog) removeBlob(ctx context.Context, key string) {
	if err := c.blobs.Delete(ctx, key); err != nil {
		c.logger.Warn("Failed to delete firmware binary",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*storage.FirmwareArtifact, error) {
	return c.store.GetFirmware(ctx, id)
}

func (c *Catalog) List(ctx context.Context, modelType string) ([]*storage.FirmwareArtifact, error) {
	return c.store.ListFirmware(ctx, modelType)
}

// Download is either a presigned URL or an open stream of the binary.
type Download struct {
	Artifact *storage.FirmwareArtifact
	URL      string
	Content  io.ReadCloser
}

// Open prepares a binary for download. Backends that can presign return a
// URL; the others return the content stream, which the caller must close.
func (c *Catalog) Open(ctx context.Context, id uuid.UUID) (*Download, error) {
	fw, err := c.store.GetFirmware(ctx, id)
	if err != nil {
		return nil, err
	}

	ttl := c.cfg.DownloadURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := c.blobs.PresignedURL(ctx, fw.StoragePath, ttl)
	if err == nil {
		return &Download{Artifact: fw, URL: url}, nil
	}
	if !errors.Is(err, blob.ErrPresignUnsupported) {
		return nil, err
	}

	rc, err := c.blobs.Open(ctx, fw.StoragePath)
	if err != nil {
		return nil, err
	}
	return &Download{Artifact: fw, Content: rc}, nil
}

// limitWriter counts bytes and fails once more than limit have been written.
type limitWriter struct {
	n     int64
	limit int64
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	if w.n > w.limit {
		return 0, errTooLarge
	}
	return len(p), nil
}
