package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
)

// FilesystemProvider keeps objects as files below a base directory, one
// directory per model type.
type FilesystemProvider struct {
	baseDir string
}

func NewFilesystemProvider(baseDir string) (*FilesystemProvider, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("blob base directory is empty")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", baseDir, err)
	}
	return &FilesystemProvider{baseDir: abs}, nil
}

func (p *FilesystemProvider) resolve(key string) (string, error) {
	if !filepath.IsLocal(key) {
		return "", types.BadRequest("invalid object key %q", key)
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(key)), nil
}

func (p *FilesystemProvider) CheckBucket(ctx context.Context) error {
	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", p.baseDir, err)
	}
	return nil
}

// Put writes to a temporary file first so a failed upload never leaves a
// truncated binary at the final path.
func (p *FilesystemProvider) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	dst, err := p.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (p *FilesystemProvider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := p.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.NotFound("firmware binary not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

func (p *FilesystemProvider) Move(ctx context.Context, src, dst string) error {
	from, err := p.resolve(src)
	if err != nil {
		return err
	}
	to, err := p.resolve(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := os.Rename(from, to); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.NotFound("firmware binary not found")
		}
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

func (p *FilesystemProvider) Delete(ctx context.Context, key string) error {
	src, err := p.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (p *FilesystemProvider) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}
