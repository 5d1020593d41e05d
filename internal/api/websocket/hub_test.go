package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/rollout"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage/memory"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, *auth.AuthService, string) {
	t.Helper()
	t.Setenv("OFC_TEST_JWT_SECRET", "test-secret-with-at-least-32-characters")
	authService := auth.NewAuthService(memory.New(),
		config.AuthConfig{JWTSecretEnv: "OFC_TEST_JWT_SECRET", AccessTokenTTL: time.Minute}, zap.NewNop())

	hub := NewHub(zap.NewNop(), authService)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, authService, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func TestRolloutEventsReachAuthenticatedClients(t *testing.T) {
	hub, authService, url := startHub(t)
	token, err := authService.IssueAccessToken(uuid.New(), "olga", "operator")
	if err != nil {
		t.Fatal(err)
	}

	conn := dial(t, url)
	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": token}); err != nil {
		t.Fatal(err)
	}
	if msg := readType(t, conn); msg["type"] != string(MessageTypeAuthSuccess) {
		t.Fatalf("first message = %v", msg)
	}

	notice := rollout.Notice{
		DeviceID:   "sensor-1",
		FirmwareID: uuid.New(),
		Version:    "v1.1.0",
		ModelType:  "esp32",
		Trigger:    storage.TriggerAuto,
		At:         time.Now(),
	}
	if err := hub.NotifyRollout(context.Background(), notice); err != nil {
		t.Fatal(err)
	}

	msg := readType(t, conn)
	if msg["type"] != string(MessageTypeRolloutStarted) {
		t.Fatalf("message type = %v", msg["type"])
	}
	data, _ := msg["data"].(map[string]any)
	if data["deviceId"] != "sensor-1" || data["version"] != "v1.1.0" || data["trigger"] != "AUTO" {
		t.Errorf("data = %v", data)
	}
	if hub.GetClientCount() != 1 {
		t.Errorf("clients = %d, want 1", hub.GetClientCount())
	}
}

func TestAuthenticationRequired(t *testing.T) {
	_, _, url := startHub(t)

	tests := []struct {
		name  string
		first any
	}{
		{"not an auth message", map[string]string{"type": "subscribe"}},
		{"missing token", map[string]string{"type": "auth"}},
		{"invalid token", map[string]string{"type": "auth", "token": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, url)
			if err := conn.WriteJSON(tt.first); err != nil {
				t.Fatal(err)
			}
			msg := readType(t, conn)
			if msg["type"] != string(MessageTypeAuthFailed) {
				t.Fatalf("message = %v", msg)
			}
			if _, _, err := conn.ReadMessage(); err == nil {
				t.Error("connection still open after failed auth")
			}
		})
	}
}
