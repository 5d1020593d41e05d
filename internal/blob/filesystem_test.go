package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
)

func TestKey(t *testing.T) {
	tests := []struct {
		model, version, want string
	}{
		{"esp32", "v1.2.0", "esp32/esp32-v1.2.0.bin"},
		{"X", "v0.0.1-rc1", "X/X-v0.0.1-rc1.bin"},
	}
	for _, tt := range tests {
		if got := Key(tt.model, tt.version); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.model, tt.version, got, tt.want)
		}
	}
}

func newTestProvider(t *testing.T) *FilesystemProvider {
	t.Helper()
	p, err := NewFilesystemProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemProvider: %v", err)
	}
	if err := p.CheckBucket(context.Background()); err != nil {
		t.Fatalf("CheckBucket: %v", err)
	}
	return p
}

func TestFilesystemPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	key := Key("esp32", "v1.0.0")

	if err := p.Put(ctx, key, strings.NewReader("firmware"), 8); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := p.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "firmware" {
		t.Errorf("content = %q, want %q", data, "firmware")
	}

	if err := p.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Open(ctx, key); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Open after delete: err = %v, want ErrNotFound", err)
	}
}

func TestFilesystemMove(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	staging := StagingKey("esp32")
	key := Key("esp32", "v1.0.0")

	if StagingKey("esp32") == staging {
		t.Fatal("staging keys are not unique")
	}
	if err := p.Put(ctx, key, strings.NewReader("old"), 3); err != nil {
		t.Fatal(err)
	}
	if err := p.Put(ctx, staging, strings.NewReader("new"), 3); err != nil {
		t.Fatal(err)
	}
	if err := p.Move(ctx, staging, key); err != nil {
		t.Fatalf("Move: %v", err)
	}

	rc, err := p.Open(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "new" {
		t.Errorf("content = %q, want new", data)
	}
	if _, err := p.Open(ctx, staging); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("staged object still present: %v", err)
	}
	if err := p.Move(ctx, staging, key); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Move of missing object: err = %v, want ErrNotFound", err)
	}
}

func TestFilesystemDeleteMissing(t *testing.T) {
	p := newTestProvider(t)
	if err := p.Delete(context.Background(), Key("esp32", "v9.9.9")); err != nil {
		t.Errorf("Delete of missing object: %v", err)
	}
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	p := newTestProvider(t)
	for _, key := range []string{"../etc/passwd", "/abs/path.bin", ""} {
		err := p.Put(context.Background(), key, strings.NewReader("x"), 1)
		if !errors.Is(err, types.ErrBadRequest) {
			t.Errorf("Put(%q): err = %v, want ErrBadRequest", key, err)
		}
	}
}

func TestFilesystemPresignUnsupported(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.PresignedURL(context.Background(), "k", 0); !errors.Is(err, ErrPresignUnsupported) {
		t.Errorf("err = %v, want ErrPresignUnsupported", err)
	}
}
