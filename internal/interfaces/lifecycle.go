package interfaces

import "context"

// SystemStatus is the runtime snapshot served on /api/v1/system/status.
type SystemStatus struct {
	State          string `json:"state"`
	StartedAt      int64  `json:"started_at"`
	StorageDriver  string `json:"storage_driver"`
	StorageHealthy bool   `json:"storage_healthy"`
	BlobBackend    string `json:"blob_backend"`
	HardwareModels int    `json:"hardware_models"`
	LiveClients    int    `json:"live_clients"`
	MQTTEnabled    bool   `json:"mqtt_enabled"`
	DeviceCount    int    `json:"device_count"`
	PendingUpdates int    `json:"pending_updates"`
	PairedDevices  int    `json:"paired_devices"`
}

// LifecycleManager is the view of the running system the API needs.
type LifecycleManager interface {
	GetCurrentStatus(ctx context.Context) SystemStatus
}
