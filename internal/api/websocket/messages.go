package websocket

import (
	"encoding/json"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/rollout"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Rollout messages
	MessageTypeRolloutStarted MessageType = "rollout_started"

	// Device messages
	MessageTypeDeviceRegistered MessageType = "device_registered"

	// Session messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// RolloutData is the payload of a rollout_started message.
type RolloutData struct {
	rollout.Notice
}

// DeviceData is the payload of a device_registered message.
type DeviceData struct {
	DeviceID        string `json:"deviceId"`
	ModelType       string `json:"modelType"`
	FirmwareVersion string `json:"firmwareVersion"`
	Created         bool   `json:"created"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewRolloutMessage(n rollout.Notice) Message {
	msg := NewMessage(MessageTypeRolloutStarted, RolloutData{Notice: n})
	if !n.At.IsZero() {
		msg.Timestamp = n.At
	}
	return msg
}

func NewDeviceRegisteredMessage(d *storage.Device, created bool) Message {
	return NewMessage(MessageTypeDeviceRegistered, DeviceData{
		DeviceID:        d.DeviceID,
		ModelType:       d.ModelType,
		FirmwareVersion: d.FirmwareVersion,
		Created:         created,
	})
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
