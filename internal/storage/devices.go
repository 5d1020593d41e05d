package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `
	device_id, name, description, model_type, firmware_version, firmware_status,
	paired, paired_at, last_seen_at, auto_update, room_id,
	battery_voltage, battery_percentage, created_at, updated_at`

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(
		&d.DeviceID, &d.Name, &d.Description, &d.ModelType, &d.FirmwareVersion, &d.FirmwareStatus,
		&d.Paired, &d.PairedAt, &d.LastSeenAt, &d.AutoUpdate, &d.RoomID,
		&d.BatteryVoltage, &d.BatteryPercentage, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDevice loads a device by its external identifier
func (q *queries) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	d, err := scanDevice(q.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID))
	if err != nil {
		return nil, classify(err, "device")
	}
	return d, nil
}

// ListDevices returns devices ordered by most recently seen
func (q *queries) ListDevices(ctx context.Context, pairedOnly, unpairedOnly bool) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	switch {
	case pairedOnly:
		query += ` WHERE paired = true`
	case unpairedOnly:
		query += ` WHERE paired = false`
	}
	query += ` ORDER BY last_seen_at DESC`

	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpsertDevice registers a device or refreshes its reported state.
// A re-registration always resets the firmware status.
func (q *queries) UpsertDevice(ctx context.Context, reg DeviceRegistration) (*Device, bool, error) {
	var created bool
	row := q.db.QueryRow(ctx, `
		INSERT INTO devices (device_id, model_type, firmware_version, firmware_status,
		                     battery_voltage, battery_percentage, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id)
		DO UPDATE SET
			model_type = EXCLUDED.model_type,
			firmware_version = EXCLUDED.firmware_version,
			firmware_status = EXCLUDED.firmware_status,
			battery_voltage = COALESCE(EXCLUDED.battery_voltage, devices.battery_voltage),
			battery_percentage = COALESCE(EXCLUDED.battery_percentage, devices.battery_percentage),
			last_seen_at = GREATEST(devices.last_seen_at, EXCLUDED.last_seen_at),
			updated_at = NOW()
		RETURNING `+deviceColumns+`, (xmax = 0)
	`, reg.DeviceID, reg.ModelType, reg.FirmwareVersion, FirmwareUpToDate,
		reg.BatteryVoltage, reg.BatteryPercentage, reg.SeenAt)

	var d Device
	err := row.Scan(
		&d.DeviceID, &d.Name, &d.Description, &d.ModelType, &d.FirmwareVersion, &d.FirmwareStatus,
		&d.Paired, &d.PairedAt, &d.LastSeenAt, &d.AutoUpdate, &d.RoomID,
		&d.BatteryVoltage, &d.BatteryPercentage, &d.CreatedAt, &d.UpdatedAt, &created,
	)
	if err != nil {
		return nil, false, classify(err, "device")
	}
	return &d, created, nil
}

// PairDevice marks a device as paired and applies the optional attributes
func (q *queries) PairDevice(ctx context.Context, p DevicePairing) (*Device, error) {
	d, err := scanDevice(q.db.QueryRow(ctx, `
		UPDATE devices SET
			paired = true,
			paired_at = $2,
			name = COALESCE($3, name),
			description = COALESCE($4, description),
			room_id = COALESCE($5, room_id),
			updated_at = NOW()
		WHERE device_id = $1
		RETURNING `+deviceColumns,
		p.DeviceID, p.PairedAt, p.Name, p.Description, p.RoomID))
	if err != nil {
		return nil, classify(err, "device")
	}
	return d, nil
}

// TouchDevice advances last_seen_at; it never moves backwards
func (q *queries) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	result, err := q.db.Exec(ctx, `
		UPDATE devices SET last_seen_at = GREATEST(last_seen_at, $2)
		WHERE device_id = $1
	`, deviceID, seenAt)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	if result.RowsAffected() == 0 {
		return types.NotFound("device not found")
	}
	return nil
}

func (q *queries) SetDeviceFirmwareStatus(ctx context.Context, deviceID string, status FirmwareStatus) error {
	result, err := q.db.Exec(ctx, `
		UPDATE devices SET firmware_status = $2, updated_at = NOW() WHERE device_id = $1
	`, deviceID, status)
	if err != nil {
		return fmt.Errorf("failed to update firmware status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return types.NotFound("device not found")
	}
	return nil
}

func (q *queries) SetDeviceAutoUpdate(ctx context.Context, deviceID string, enabled bool) error {
	result, err := q.db.Exec(ctx, `
		UPDATE devices SET auto_update = $2, updated_at = NOW() WHERE device_id = $1
	`, deviceID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update auto update flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return types.NotFound("device not found")
	}
	return nil
}

// CountDevicesOnVersion counts devices of a model reporting the given
// normalised version. Reported versions are normalised the same way: trimmed,
// with a leading "v" or "V" replaced by "v".
func (q *queries) CountDevicesOnVersion(ctx context.Context, modelType, version string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM devices
		WHERE model_type = $1
		  AND btrim(firmware_version, E' \t\r\n') <> ''
		  AND 'v' || regexp_replace(btrim(firmware_version, E' \t\r\n'), '^[vV]', '') = $2
	`, modelType, version).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}
