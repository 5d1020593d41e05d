package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type minioProvider struct {
	client     *minio.Client
	bucketName string
	region     string
	logger     *zap.Logger
}

// NewMinIOProvider creates an S3 backed provider.
func NewMinIOProvider(cfg config.S3Config, logger *zap.Logger) (Provider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioProvider{
		client:     client,
		bucketName: cfg.BucketName,
		region:     cfg.Region,
		logger:     logger,
	}, nil
}

func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		p.logger.Info("Bucket does not exist, creating", zap.String("bucket", p.bucketName))
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (p *minioProvider) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := p.client.PutObject(ctx, p.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (p *minioProvider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := p.client.GetObject(ctx, p.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller starts reading.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, types.NotFound("firmware binary not found")
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return obj, nil
}

// Move copies server side and then removes the source object.
func (p *minioProvider) Move(ctx context.Context, src, dst string) error {
	_, err := p.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: p.bucketName, Object: dst},
		minio.CopySrcOptions{Bucket: p.bucketName, Object: src})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return types.NotFound("firmware binary not found")
		}
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := p.Delete(ctx, src); err != nil {
		p.logger.Warn("Failed to remove staged firmware binary",
			zap.String("key", src),
			zap.Error(err))
	}
	return nil
}

func (p *minioProvider) Delete(ctx context.Context, key string) error {
	err := p.client.RemoveObject(ctx, p.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (p *minioProvider) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", objectName(key)))

	presignedURL, err := p.client.PresignedGetObject(ctx, p.bucketName, key, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return presignedURL.String(), nil
}

// objectName returns the last element of an object key.
func objectName(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}
