package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/rollout"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakePublisher struct {
	topic    string
	payload  []byte
	deadline bool
	budget   time.Duration
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.topic = topic
	p.payload = payload
	var dl time.Time
	dl, p.deadline = ctx.Deadline()
	p.budget = time.Until(dl)
	return p.err
}

func TestTopics(t *testing.T) {
	if got := NewTopics("ofc/v1").FirmwareUpdate("D1"); got != "ofc/v1/firmware/update/D1" {
		t.Errorf("FirmwareUpdate = %q", got)
	}
}

func TestNotifyRollout(t *testing.T) {
	pub := &fakePublisher{}
	n := newMQTTNotifier(pub, config.MQTTConfig{TopicRoot: "ofc/v1", ConnectTimeout: time.Second}, zap.NewNop())

	fwID := uuid.New()
	err := n.NotifyRollout(context.Background(), rollout.Notice{
		DeviceID:   "D1",
		FirmwareID: fwID,
		Version:    "v1.1.0",
		Trigger:    storage.TriggerDeploy,
	})
	if err != nil {
		t.Fatalf("NotifyRollout: %v", err)
	}

	if pub.topic != "ofc/v1/firmware/update/D1" {
		t.Errorf("topic = %q", pub.topic)
	}
	if !pub.deadline {
		t.Error("publish context has no deadline")
	}

	var msg map[string]any
	if err := json.Unmarshal(pub.payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg["version"] != "v1.1.0" || msg["trigger"] != "DEPLOY" {
		t.Errorf("payload = %s", pub.payload)
	}
	if msg["downloadPath"] != "/api/v1/firmware/"+fwID.String()+"/download" {
		t.Errorf("downloadPath = %v", msg["downloadPath"])
	}
}

func TestNotifyRolloutPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection down")}
	n := newMQTTNotifier(pub, config.MQTTConfig{TopicRoot: "ofc/v1"}, zap.NewNop())

	if err := n.NotifyRollout(context.Background(), rollout.Notice{DeviceID: "D1"}); err == nil {
		t.Error("NotifyRollout succeeded with a failing publisher")
	}
}

func TestNotifyRolloutPublishTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MQTTConfig
		max  time.Duration
	}{
		{"configured", config.MQTTConfig{ConnectTimeout: 5 * time.Second, PublishTimeout: 200 * time.Millisecond}, 200 * time.Millisecond},
		{"default", config.MQTTConfig{ConnectTimeout: 5 * time.Second}, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			n := newMQTTNotifier(pub, tt.cfg, zap.NewNop())
			if err := n.NotifyRollout(context.Background(), rollout.Notice{DeviceID: "D1"}); err != nil {
				t.Fatal(err)
			}
			if !pub.deadline || pub.budget > tt.max {
				t.Errorf("publish budget = %s, want at most %s", pub.budget, tt.max)
			}
		})
	}
}

func TestPublishFailsFastWhileDisconnected(t *testing.T) {
	conn := &Connection{logger: zap.NewNop()}

	start := time.Now()
	err := conn.Publish(context.Background(), "ofc/v1/firmware/update/D1", []byte("{}"))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Publish blocked for %s", time.Since(start))
	}
}
