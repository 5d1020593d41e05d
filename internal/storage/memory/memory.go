// Package memory is a process-local storage.Store used by tests and by the
// `database.driver: memory` development mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/google/uuid"
)

type state struct {
	devices     map[string]storage.Device
	firmware    map[uuid.UUID]storage.FirmwareArtifact
	deployments []storage.Deployment
	rooms       map[uuid.UUID]storage.Room
	members     map[uuid.UUID]map[uuid.UUID]bool
	tokens      map[uuid.UUID]storage.MachineToken
	lastStamp   time.Time
}

func newState() *state {
	return &state{
		devices:  make(map[string]storage.Device),
		firmware: make(map[uuid.UUID]storage.FirmwareArtifact),
		rooms:    make(map[uuid.UUID]storage.Room),
		members:  make(map[uuid.UUID]map[uuid.UUID]bool),
		tokens:   make(map[uuid.UUID]storage.MachineToken),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.devices {
		c.devices[k] = v
	}
	for k, v := range s.firmware {
		c.firmware[k] = v
	}
	c.deployments = append([]storage.Deployment(nil), s.deployments...)
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for team, users := range s.members {
		c.members[team] = make(map[uuid.UUID]bool, len(users))
		for u := range users {
			c.members[team][u] = true
		}
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	c.lastStamp = s.lastStamp
	return c
}

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	view
	mu  sync.Mutex
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	s := &Store{now: time.Now}
	s.view = view{st: newState(), mu: &s.mu, now: s.stamp}
	return s
}

// SetClock replaces the time source; tests use it to control timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// stamp returns a strictly increasing timestamp so creation order is stable.
// Callers hold s.mu.
func (s *Store) stamp() time.Time {
	t := s.now()
	if !t.After(s.st.lastStamp) {
		t = s.st.lastStamp.Add(time.Microsecond)
	}
	s.st.lastStamp = t
	return t
}

func (s *Store) WithTx(ctx context.Context, fn func(q storage.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &view{st: s.st.clone()}
	tx.now = func() time.Time {
		t := s.now()
		if !t.After(tx.st.lastStamp) {
			t = tx.st.lastStamp.Add(time.Microsecond)
		}
		tx.st.lastStamp = t
		return t
	}

	if err := fn(tx); err != nil {
		return err
	}
	*s.st = *tx.st
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() {}

// AddRoom seeds a room owned by the given team owner.
func (s *Store) AddRoom(room storage.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.rooms[room.ID] = room
}

// AddTeamMember seeds a team membership.
func (s *Store) AddTeamMember(teamID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.members[teamID] == nil {
		s.st.members[teamID] = make(map[uuid.UUID]bool)
	}
	s.st.members[teamID][userID] = true
}

// view runs statements against a state. The store's own view locks mu; a
// transaction view has mu == nil because WithTx already holds the lock.
type view struct {
	st  *state
	mu  *sync.Mutex
	now func() time.Time
}

func (v *view) lock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.Lock()
	return v.mu.Unlock
}

func (v *view) GetDevice(ctx context.Context, deviceID string) (*storage.Device, error) {
	defer v.lock()()
	d, ok := v.st.devices[deviceID]
	if !ok {
		return nil, types.NotFound("device not found")
	}
	return &d, nil
}

func (v *view) ListDevices(ctx context.Context, pairedOnly, unpairedOnly bool) ([]*storage.Device, error) {
	defer v.lock()()
	devices := make([]*storage.Device, 0, len(v.st.devices))
	for _, d := range v.st.devices {
		if pairedOnly && !d.Paired || unpairedOnly && d.Paired {
			continue
		}
		d := d
		devices = append(devices, &d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastSeenAt.After(devices[j].LastSeenAt)
	})
	return devices, nil
}

func (v *view) UpsertDevice(ctx context.Context, reg storage.DeviceRegistration) (*storage.Device, bool, error) {
	defer v.lock()()
	now := v.now()
	d, exists := v.st.devices[reg.DeviceID]
	if !exists {
		d = storage.Device{
			DeviceID:   reg.DeviceID,
			CreatedAt:  now,
			LastSeenAt: reg.SeenAt,
		}
	}
	d.ModelType = reg.ModelType
	d.FirmwareVersion = reg.FirmwareVersion
	d.FirmwareStatus = storage.FirmwareUpToDate
	if reg.BatteryVoltage != nil {
		d.BatteryVoltage = reg.BatteryVoltage
	}
	if reg.BatteryPercentage != nil {
		d.BatteryPercentage = reg.BatteryPercentage
	}
	if reg.SeenAt.After(d.LastSeenAt) {
		d.LastSeenAt = reg.SeenAt
	}
	d.UpdatedAt = now
	v.st.devices[d.DeviceID] = d
	return &d, !exists, nil
}

func (v *view) PairDevice(ctx context.Context, p storage.DevicePairing) (*storage.Device, error) {
	defer v.lock()()
	d, ok := v.st.devices[p.DeviceID]
	if !ok {
		return nil, types.NotFound("device not found")
	}
	pairedAt := p.PairedAt
	d.Paired = true
	d.PairedAt = &pairedAt
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.RoomID != nil {
		room := *p.RoomID
		d.RoomID = &room
	}
	d.UpdatedAt = v.now()
	v.st.devices[d.DeviceID] = d
	return &d, nil
}

func (v *view) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	defer v.lock()()
	d, ok := v.st.devices[deviceID]
	if !ok {
		return types.NotFound("device not found")
	}
	if seenAt.After(d.LastSeenAt) {
		d.LastSeenAt = seenAt
	}
	v.st.devices[deviceID] = d
	return nil
}

func (v *view) SetDeviceFirmwareStatus(ctx context.Context, deviceID string, status storage.FirmwareStatus) error {
	defer v.lock()()
	d, ok := v.st.devices[deviceID]
	if !ok {
		return types.NotFound("device not found")
	}
	d.FirmwareStatus = status
	d.UpdatedAt = v.now()
	v.st.devices[deviceID] = d
	return nil
}

func (v *view) SetDeviceAutoUpdate(ctx context.Context, deviceID string, enabled bool) error {
	defer v.lock()()
	d, ok := v.st.devices[deviceID]
	if !ok {
		return types.NotFound("device not found")
	}
	d.AutoUpdate = enabled
	d.UpdatedAt = v.now()
	v.st.devices[deviceID] = d
	return nil
}

func (v *view) CountDevicesOnVersion(ctx context.Context, modelType, version string) (int, error) {
	defer v.lock()()
	count := 0
	for _, d := range v.st.devices {
		if d.ModelType == modelType && normalizeVersion(d.FirmwareVersion) == version {
			count++
		}
	}
	return count, nil
}

// normalizeVersion mirrors the catalog's version rule so devices reporting
// "1.2.0" or "V1.2.0" match an artifact stored as "v1.2.0".
func normalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	switch {
	case v == "":
		return ""
	case v[0] == 'v':
		return v
	case v[0] == 'V':
		return "v" + v[1:]
	default:
		return "v" + v
	}
}

func (v *view) CreateFirmware(ctx context.Context, fw *storage.FirmwareArtifact) error {
	defer v.lock()()
	for _, existing := range v.st.firmware {
		if existing.ModelType == fw.ModelType && existing.Version == fw.Version {
			return types.Conflict("firmware version for this model already exists")
		}
	}
	fw.CreatedAt = v.now()
	v.st.firmware[fw.ID] = *fw
	return nil
}

func (v *view) GetFirmware(ctx context.Context, id uuid.UUID) (*storage.FirmwareArtifact, error) {
	defer v.lock()()
	fw, ok := v.st.firmware[id]
	if !ok {
		return nil, types.NotFound("firmware not found")
	}
	return &fw, nil
}

func (v *view) FirmwareExists(ctx context.Context, modelType, version string) (bool, error) {
	defer v.lock()()
	for _, fw := range v.st.firmware {
		if fw.ModelType == modelType && fw.Version == version {
			return true, nil
		}
	}
	return false, nil
}

func (v *view) LatestReleasedFirmware(ctx context.Context, modelType string) (*storage.FirmwareArtifact, error) {
	defer v.lock()()
	var latest *storage.FirmwareArtifact
	for _, fw := range v.st.firmware {
		if fw.ModelType != modelType || fw.Status != storage.ArtifactReleased {
			continue
		}
		if latest == nil || fw.CreatedAt.After(latest.CreatedAt) {
			fw := fw
			latest = &fw
		}
	}
	if latest == nil {
		return nil, types.NotFound("released firmware not found")
	}
	return latest, nil
}

func (v *view) ListFirmware(ctx context.Context, modelType string) ([]*storage.FirmwareArtifact, error) {
	defer v.lock()()
	artifacts := make([]*storage.FirmwareArtifact, 0)
	for _, fw := range v.st.firmware {
		if modelType != "" && fw.ModelType != modelType {
			continue
		}
		fw := fw
		artifacts = append(artifacts, &fw)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

func (v *view) PromoteFirmware(ctx context.Context, id uuid.UUID) (bool, error) {
	defer v.lock()()
	fw, ok := v.st.firmware[id]
	if !ok || fw.Status != storage.ArtifactDraft {
		return false, nil
	}
	fw.Status = storage.ArtifactReleased
	v.st.firmware[id] = fw
	return true, nil
}

func (v *view) DeleteFirmware(ctx context.Context, id uuid.UUID) error {
	defer v.lock()()
	if _, ok := v.st.firmware[id]; !ok {
		return types.NotFound("firmware not found")
	}
	delete(v.st.firmware, id)
	return nil
}

func (v *view) CreateDeployment(ctx context.Context, d *storage.Deployment) error {
	defer v.lock()()
	if _, ok := v.st.devices[d.DeviceID]; !ok {
		return types.NotFound("device not found")
	}
	if _, ok := v.st.firmware[d.FirmwareID]; !ok {
		return types.NotFound("firmware not found")
	}
	d.CreatedAt = v.now()
	v.st.deployments = append(v.st.deployments, *d)
	return nil
}

func (v *view) ListDeploymentsForDevice(ctx context.Context, deviceID string) ([]*storage.Deployment, error) {
	defer v.lock()()
	deployments := make([]*storage.Deployment, 0)
	for i := len(v.st.deployments) - 1; i >= 0; i-- {
		if d := v.st.deployments[i]; d.DeviceID == deviceID {
			deployments = append(deployments, &d)
		}
	}
	return deployments, nil
}

func (v *view) DeleteDeploymentsForFirmware(ctx context.Context, firmwareID uuid.UUID) (int64, error) {
	defer v.lock()()
	kept := v.st.deployments[:0]
	var removed int64
	for _, d := range v.st.deployments {
		if d.FirmwareID == firmwareID {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	v.st.deployments = kept
	return removed, nil
}

func (v *view) GetRoom(ctx context.Context, roomID uuid.UUID) (*storage.Room, error) {
	defer v.lock()()
	r, ok := v.st.rooms[roomID]
	if !ok {
		return nil, types.NotFound("room not found")
	}
	return &r, nil
}

func (v *view) IsTeamMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error) {
	defer v.lock()()
	return v.st.members[teamID][userID], nil
}

func (v *view) CreateMachineToken(ctx context.Context, t *storage.MachineToken) error {
	defer v.lock()()
	for _, existing := range v.st.tokens {
		if existing.TokenHash == t.TokenHash {
			return types.Conflict("machine token already exists")
		}
	}
	t.CreatedAt = v.now()
	v.st.tokens[t.ID] = *t
	return nil
}

func (v *view) GetMachineTokenByHash(ctx context.Context, tokenHash string) (*storage.MachineToken, error) {
	defer v.lock()()
	for _, t := range v.st.tokens {
		if t.TokenHash == tokenHash {
			return &t, nil
		}
	}
	return nil, types.NotFound("token not found")
}

func (v *view) ListMachineTokens(ctx context.Context) ([]*storage.MachineToken, error) {
	defer v.lock()()
	tokens := make([]*storage.MachineToken, 0, len(v.st.tokens))
	for _, t := range v.st.tokens {
		t := t
		tokens = append(tokens, &t)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (v *view) UpdateMachineTokenLastUsed(ctx context.Context, id uuid.UUID) error {
	defer v.lock()()
	t, ok := v.st.tokens[id]
	if !ok {
		return types.NotFound("machine token not found")
	}
	now := v.now()
	t.LastUsedAt = &now
	v.st.tokens[id] = t
	return nil
}

func (v *view) DeleteMachineToken(ctx context.Context, id uuid.UUID) error {
	defer v.lock()()
	if _, ok := v.st.tokens[id]; !ok {
		return types.NotFound("machine token not found")
	}
	delete(v.st.tokens, id)
	return nil
}
