package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPresignUnsupported is returned by backends that cannot hand out
// temporary download URLs; callers stream the object instead.
var ErrPresignUnsupported = errors.New("presigned urls not supported by this backend")

// Provider stores firmware binaries.
type Provider interface {
	// Put writes the object. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Open returns a reader for the object or a NotFound error.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Move renames src to dst, replacing dst if it exists.
	Move(ctx context.Context, src, dst string) error

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// PresignedURL generates a temporary download link.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// CheckBucket makes sure the backing bucket or directory exists.
	CheckBucket(ctx context.Context) error
}

// Key is the deterministic object key of a firmware binary.
func Key(modelType, version string) string {
	return fmt.Sprintf("%s/%s-%s.bin", modelType, modelType, version)
}

// StagingKey is a unique key an upload is written to before it is moved to
// its final Key.
func StagingKey(modelType string) string {
	return fmt.Sprintf("%s/.staging/%s.bin", modelType, uuid.NewString())
}

// New builds the provider selected by blob.backend and checks that it is usable.
func New(ctx context.Context, cfg config.BlobConfig, s3 config.S3Config, logger *zap.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Backend {
	case "s3":
		p, err = NewMinIOProvider(s3, logger)
	case "filesystem", "":
		p, err = NewFilesystemProvider(cfg.BaseDir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := p.CheckBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("Blob storage ready", zap.String("backend", cfg.Backend))
	return p, nil
}
