package hwmodel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

const esp32Profile = `hardware_model:
  id: esp32
  vendor: Espressif
  name: ESP32-WROOM-32
firmware:
  max_size_bytes: 4194304
  partition: ota_0
sensors: [temperature, humidity, battery]
`

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "esp32.yaml", esp32Profile)
	writeProfile(t, dir, "nrf52.yml", "hardware_model:\n  id: nrf52\n  vendor: Nordic\n  name: nRF52840\n")
	writeProfile(t, dir, "README.md", "ignored")

	r, err := NewRegistry([]string{dir, filepath.Join(dir, "missing")}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	m, ok := r.Get("esp32")
	if !ok {
		t.Fatal("esp32 not loaded")
	}
	if m.Firmware.MaxSizeBytes != 4194304 {
		t.Errorf("MaxSizeBytes = %d, want 4194304", m.Firmware.MaxSizeBytes)
	}
	if !r.Known("nrf52") || r.Known("stm32") {
		t.Errorf("Known() mismatch")
	}
	list := r.List()
	if list[0].Model.ID != "esp32" || list[1].Model.ID != "nrf52" {
		t.Errorf("List() not sorted by id: %s, %s", list[0].Model.ID, list[1].Model.ID)
	}
}

func TestLoadAllRejectsInvalidProfiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing vendor", "hardware_model:\n  id: x\n  name: X\n"},
		{"bad id", "hardware_model:\n  id: \"has space\"\n  vendor: V\n  name: X\n"},
		{"unknown sensor", "hardware_model:\n  id: x\n  vendor: V\n  name: X\nsensors: [laser]\n"},
		{"negative size", "hardware_model:\n  id: x\n  vendor: V\n  name: X\nfirmware:\n  max_size_bytes: -1\n"},
		{"not yaml", "hardware_model: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeProfile(t, dir, "model.yaml", tt.content)

			r, err := NewRegistry([]string{dir}, zap.NewNop())
			if err != nil {
				t.Fatalf("NewRegistry: %v", err)
			}
			if err := r.LoadAll(); err == nil {
				t.Error("LoadAll() succeeded, want error")
			}
		})
	}
}

func TestLoadAllRejectsDuplicates(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeProfile(t, a, "esp32.yaml", esp32Profile)
	writeProfile(t, b, "esp32-copy.yaml", esp32Profile)

	r, err := NewRegistry([]string{a, b}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	err = r.LoadAll()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("LoadAll() = %v, want duplicate error", err)
	}
}
