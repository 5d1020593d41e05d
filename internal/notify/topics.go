package notify

import "fmt"

// Topic segments shared with device firmware. Changing them breaks deployed devices.
const (
	// SuffixFirmwareUpdate carries rollout notices (server -> device).
	// Structure: {root}/firmware/update/{deviceID}
	SuffixFirmwareUpdate = "firmware/update"
)

type Topics struct {
	root string
}

func NewTopics(root string) *Topics {
	return &Topics{root: root}
}

// FirmwareUpdate is the topic a device subscribes to for rollout notices.
func (t *Topics) FirmwareUpdate(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.root, SuffixFirmwareUpdate, deviceID)
}
