package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/KevinKickass/OpenFacilityCore/internal/blob"
	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/firmware"
	"github.com/KevinKickass/OpenFacilityCore/internal/registry"
	"github.com/KevinKickass/OpenFacilityCore/internal/rollout"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage/memory"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	store   *memory.Store
	auth    *auth.AuthService
}

func newTestAPI(t *testing.T, maxUpload int64) *testAPI {
	t.Helper()
	t.Setenv("OFC_TEST_JWT_SECRET", "test-secret-with-at-least-32-characters")

	cfg := &config.Config{
		Server:   config.ServerConfig{CORSOrigins: []string{"*"}},
		Auth:     config.AuthConfig{JWTSecretEnv: "OFC_TEST_JWT_SECRET", AccessTokenTTL: time.Minute},
		Firmware: config.FirmwareConfig{DefaultModel: "esp32", MaxUploadSize: maxUpload},
	}

	blobs, err := blob.NewFilesystemProvider(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	store := memory.New()
	reg := registry.New(store, logger)
	catalog := firmware.NewCatalog(store, blobs, nil, cfg.Firmware, logger)
	authService := auth.NewAuthService(store, cfg.Auth, logger)

	s := NewServer(cfg, Services{
		Store:       store,
		Registry:    reg,
		Catalog:     catalog,
		Coordinator: rollout.NewCoordinator(store, reg, catalog, cfg.Firmware, logger),
		Auth:        authService,
	}, logger)

	return &testAPI{t: t, handler: s.Handler(), store: store, auth: authService}
}

func (a *testAPI) token(role string) string {
	return a.tokenFor(uuid.New(), role)
}

func (a *testAPI) tokenFor(userID uuid.UUID, role string) string {
	a.t.Helper()
	token, err := a.auth.IssueAccessToken(userID, role+"-user", role)
	if err != nil {
		a.t.Fatal(err)
	}
	return token
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			a.t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, token)
}

func (a *testAPI) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func (a *testAPI) upload(token string, fields map[string]string, content []byte) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			a.t.Fatal(err)
		}
	}
	if content != nil {
		fw, err := mw.CreateFormFile("file", "firmware.bin")
		if err != nil {
			a.t.Fatal(err)
		}
		fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		a.t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/firmware/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return a.send(req, token)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d: %s", w.Code, want, w.Body.String())
	}
	return decode(t, w)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, 1024)

	body := expectStatus(t, api.do(http.MethodGet, "/health", "", nil), http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}

	w := api.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ofc_http_request_duration_seconds") {
		t.Errorf("metrics status = %d", w.Code)
	}
}

func TestRegisterDevice(t *testing.T) {
	api := newTestAPI(t, 1024)
	reg := map[string]any{"deviceId": "sensor-1", "firmwareVersion": "v1.0.0", "modelType": "esp32", "batteryPercentage": 80}

	body := expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/register", "", reg), http.StatusCreated)
	if body["deviceId"] != "sensor-1" || body["firmwareStatus"] != "UP_TO_DATE" {
		t.Errorf("created device = %v", body)
	}

	reg["firmwareVersion"] = "v1.0.1"
	body = expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/register", "", reg), http.StatusOK)
	if body["firmwareVersion"] != "v1.0.1" {
		t.Errorf("updated device = %v", body)
	}

	devices, err := api.store.ListDevices(context.Background(), false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Errorf("devices = %d, want 1", len(devices))
	}
}

func TestRegisterDeviceValidation(t *testing.T) {
	api := newTestAPI(t, 1024)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing device id", map[string]any{"firmwareVersion": "v1"}, "deviceId"},
		{"missing version", map[string]any{"deviceId": "d"}, "firmwareVersion"},
		{"battery out of range", map[string]any{"deviceId": "d", "firmwareVersion": "v1", "batteryPercentage": 150}, "batteryPercentage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/register", "", tt.body), http.StatusBadRequest)
			if body["code"] != "DEVICE_400" || body["error"] == "" {
				t.Errorf("body = %v", body)
			}
			details, _ := body["details"].([]any)
			if len(details) != 1 {
				t.Fatalf("details = %v", body["details"])
			}
			if f := details[0].(map[string]any)["field"]; f != tt.field {
				t.Errorf("field = %v, want %s", f, tt.field)
			}
		})
	}
}

func TestAuthorization(t *testing.T) {
	api := newTestAPI(t, 1024)
	operator := api.token("operator")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"list without token", http.MethodGet, "/api/v1/devices", "", http.StatusUnauthorized},
		{"list with garbage", http.MethodGet, "/api/v1/devices", "garbage", http.StatusUnauthorized},
		{"list as operator", http.MethodGet, "/api/v1/devices", operator, http.StatusOK},
		{"force as operator", http.MethodPost, "/api/v1/devices/d/forceUpdate", operator, http.StatusForbidden},
		{"delete firmware as operator", http.MethodDelete, "/api/v1/firmware/" + uuid.NewString(), operator, http.StatusForbidden},
		{"tokens as operator", http.MethodGet, "/api/v1/machine-tokens", operator, http.StatusForbidden},
		{"check is public", http.MethodGet, "/api/v1/firmware/check?deviceId=unknown", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.token, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestPairDevice(t *testing.T) {
	api := newTestAPI(t, 1024)
	owner, stranger := uuid.New(), uuid.New()
	roomID, teamID := uuid.New(), uuid.New()
	api.store.AddRoom(storage.Room{ID: roomID, TeamID: teamID, Name: "Lab", OwnerID: owner})

	expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/register", "",
		map[string]any{"deviceId": "sensor-1", "firmwareVersion": "v1"}), http.StatusCreated)

	unpaired := expectStatus(t, api.do(http.MethodGet, "/api/v1/devices/pair", api.token("operator"), nil), http.StatusOK)
	if unpaired["count"] != float64(1) {
		t.Errorf("unpaired = %v", unpaired)
	}

	tests := []struct {
		name   string
		caller uuid.UUID
		body   map[string]any
		want   int
	}{
		{"missing device id", owner, map[string]any{}, http.StatusBadRequest},
		{"malformed room", owner, map[string]any{"device_id": "sensor-1", "roomId": "nope"}, http.StatusBadRequest},
		{"unknown device", owner, map[string]any{"device_id": "ghost"}, http.StatusNotFound},
		{"unknown room", owner, map[string]any{"device_id": "sensor-1", "roomId": uuid.NewString()}, http.StatusNotFound},
		{"not in team", stranger, map[string]any{"device_id": "sensor-1", "roomId": roomID.String()}, http.StatusForbidden},
		{"owner", owner, map[string]any{"device_id": "sensor-1", "roomId": roomID.String(), "name": "Lab sensor"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/api/v1/devices/pair", api.tokenFor(tt.caller, "operator"), tt.body)
			body := expectStatus(t, w, tt.want)
			if tt.want == http.StatusOK && (body["paired"] != true || body["name"] != "Lab sensor") {
				t.Errorf("paired device = %v", body)
			}
		})
	}
}

func TestFirmwareLifecycle(t *testing.T) {
	api := newTestAPI(t, 1024)
	admin := api.token("admin")
	technician := api.token("technician")
	content := []byte("esp32 firmware image v1.1.0")

	// upload as DRAFT
	body := expectStatus(t, api.upload(admin, map[string]string{
		"version": "1.1.0", "modelType": "esp32", "releaseNotes": "fixes",
	}, content), http.StatusCreated)
	if body["success"] != true || body["version"] != "v1.1.0" || body["status"] != "DRAFT" {
		t.Fatalf("upload = %v", body)
	}
	firmwareID := body["firmwareId"].(string)

	// same model and version again
	body = expectStatus(t, api.upload(admin, map[string]string{"version": "v1.1.0", "modelType": "esp32"}, content), http.StatusConflict)
	if body["code"] != "FIRMWARE_409" {
		t.Errorf("conflict body = %v", body)
	}

	// drafts are invisible to check-ins
	expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/register", "",
		map[string]any{"deviceId": "sensor-1", "firmwareVersion": "v1.0.0", "modelType": "esp32"}), http.StatusCreated)
	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/firmware/check?deviceId=sensor-1&currentVersion=v1.0.0&modelType=esp32", "", nil), http.StatusOK)
	if body["updateAvailable"] != false {
		t.Errorf("check before release = %v", body)
	}

	// deploy promotes and records
	body = expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/sensor-1/deployFirmware", technician,
		map[string]any{"firmwareId": firmwareID}), http.StatusOK)
	if body["success"] != true || body["firmwareVersion"] != "v1.1.0" {
		t.Errorf("deploy = %v", body)
	}

	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/devices/sensor-1", technician, nil), http.StatusOK)
	if body["firmwareStatus"] != "UPDATE_PENDING" {
		t.Errorf("device after deploy = %v", body)
	}
	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/devices/sensor-1/deployments", technician, nil), http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("deployments = %v", body)
	}
	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/firmware/"+firmwareID, technician, nil), http.StatusOK)
	if body["status"] != "RELEASED" {
		t.Errorf("firmware after deploy = %v", body)
	}

	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/firmware/check?deviceId=sensor-1&currentVersion=v1.0.0", "", nil), http.StatusOK)
	if body["updateAvailable"] != true || body["autoUpdateTriggered"] != false || body["latestVersion"] != "v1.1.0" {
		t.Errorf("check after release = %v", body)
	}

	// download streams the stored bytes
	w := api.do(http.MethodGet, "/api/v1/firmware/"+firmwareID+"/download", "", nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), content) {
		t.Fatalf("download = %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Checksum-MD5") == "" {
		t.Error("download without checksum header")
	}

	// delete cascades
	body = expectStatus(t, api.do(http.MethodDelete, "/api/v1/firmware/"+firmwareID, admin, nil), http.StatusOK)
	if body["devicesAffected"] != float64(0) || body["message"] == "" {
		t.Errorf("delete = %v", body)
	}
	expectStatus(t, api.do(http.MethodGet, "/api/v1/firmware/"+firmwareID, admin, nil), http.StatusNotFound)
	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/devices/sensor-1/deployments", technician, nil), http.StatusOK)
	if body["count"] != float64(0) {
		t.Errorf("deployments after delete = %v", body)
	}
}

func TestAutoUpdateAndForceUpdate(t *testing.T) {
	api := newTestAPI(t, 1024)
	admin := api.token("admin")
	technician := api.token("technician")

	expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/register", "",
		map[string]any{"deviceId": "sensor-1", "firmwareVersion": "v1.0.0", "modelType": "esp32"}), http.StatusCreated)

	// no release yet
	body := expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/sensor-1/forceUpdate", technician, nil), http.StatusNotFound)
	if body["code"] != "ROLLOUT_404" {
		t.Errorf("force without firmware = %v", body)
	}

	body = expectStatus(t, api.upload(admin, map[string]string{"version": "v2.0.0", "modelType": "esp32"}, []byte("v2")), http.StatusCreated)
	id, _ := uuid.Parse(body["firmwareId"].(string))
	if err := api.store.WithTx(context.Background(), func(q storage.Querier) error {
		_, err := q.PromoteFirmware(context.Background(), id)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	expectStatus(t, api.do(http.MethodPatch, "/api/v1/devices/sensor-1/autoUpdate", technician, map[string]any{}), http.StatusBadRequest)
	body = expectStatus(t, api.do(http.MethodPatch, "/api/v1/devices/sensor-1/autoUpdate", technician,
		map[string]any{"autoUpdate": true}), http.StatusOK)
	if body["autoUpdate"] != true {
		t.Errorf("autoUpdate = %v", body)
	}

	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/firmware/check?deviceId=sensor-1&currentVersion=v1.0.0", "", nil), http.StatusOK)
	if body["autoUpdateTriggered"] != true {
		t.Errorf("check = %v", body)
	}

	body = expectStatus(t, api.do(http.MethodPost, "/api/v1/devices/sensor-1/forceUpdate", technician, nil), http.StatusOK)
	if body["success"] != true || body["firmwareVersion"] != "v2.0.0" {
		t.Errorf("force = %v", body)
	}

	// the forced rollout adds no record; the auto one does
	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/devices/sensor-1/deployments", technician, nil), http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("deployments = %v", body)
	}

	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/devices/ghost/deployments", technician, nil), http.StatusNotFound)
	if body["code"] != "DEVICE_404" {
		t.Errorf("unknown device deployments = %v", body)
	}
}

func TestUploadLimits(t *testing.T) {
	api := newTestAPI(t, 16)
	admin := api.token("admin")

	body := expectStatus(t, api.upload(admin, map[string]string{"version": "v1", "modelType": "esp32"}, bytes.Repeat([]byte{1}, 64)), http.StatusBadRequest)
	if body["code"] != "FIRMWARE_400" {
		t.Errorf("oversized body = %v", body)
	}

	expectStatus(t, api.upload(admin, map[string]string{"version": "v1", "modelType": "esp32"}, bytes.Repeat([]byte{1}, 2<<20)), http.StatusRequestEntityTooLarge)

	body = expectStatus(t, api.upload(admin, map[string]string{"modelType": "esp32"}, nil), http.StatusBadRequest)
	details, _ := body["details"].([]any)
	if len(details) != 2 {
		t.Errorf("details = %v", body["details"])
	}
}

func TestMachineTokens(t *testing.T) {
	api := newTestAPI(t, 1024)
	admin := api.token("admin")

	expectStatus(t, api.do(http.MethodPost, "/api/v1/machine-tokens", admin,
		map[string]any{"name": "ci", "permissions": []string{"root"}}), http.StatusBadRequest)

	body := expectStatus(t, api.do(http.MethodPost, "/api/v1/machine-tokens", admin,
		map[string]any{"name": "ci", "permissions": []string{"operator", "technician"}}), http.StatusCreated)
	token := body["token"].(string)
	tokenID := body["id"].(string)

	// the machine token works as a bearer token
	expectStatus(t, api.do(http.MethodGet, "/api/v1/devices", token, nil), http.StatusOK)
	expectStatus(t, api.do(http.MethodGet, "/api/v1/machine-tokens", token, nil), http.StatusForbidden)

	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/machine-tokens", admin, nil), http.StatusOK)
	if tokens, _ := body["tokens"].([]any); len(tokens) != 1 {
		t.Errorf("tokens = %v", body)
	}

	expectStatus(t, api.do(http.MethodDelete, "/api/v1/machine-tokens/"+tokenID, admin, nil), http.StatusOK)
	expectStatus(t, api.do(http.MethodDelete, "/api/v1/machine-tokens/"+tokenID, admin, nil), http.StatusNotFound)
	expectStatus(t, api.do(http.MethodGet, "/api/v1/devices", token, nil), http.StatusUnauthorized)
}

func TestModelsAndStatusWithoutProviders(t *testing.T) {
	api := newTestAPI(t, 1024)
	operator := api.token("operator")

	body := expectStatus(t, api.do(http.MethodGet, "/api/v1/models", operator, nil), http.StatusOK)
	if body["count"] != float64(0) {
		t.Errorf("models = %v", body)
	}
	expectStatus(t, api.do(http.MethodGet, "/api/v1/models/esp32", operator, nil), http.StatusNotFound)

	body = expectStatus(t, api.do(http.MethodGet, "/api/v1/system/status", operator, nil), http.StatusOK)
	if body["state"] != "UNKNOWN" {
		t.Errorf("status = %v", body)
	}
}
