package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (q *queries) CreateDeployment(ctx context.Context, d *Deployment) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO firmware_deployments (id, device_id, firmware_id, status, triggered_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, d.ID, d.DeviceID, d.FirmwareID, d.Status, d.Trigger).Scan(&d.CreatedAt)
	if err != nil {
		return classify(err, "deployment")
	}
	return nil
}

func (q *queries) ListDeploymentsForDevice(ctx context.Context, deviceID string) ([]*Deployment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, device_id, firmware_id, status, triggered_by, created_at
		FROM firmware_deployments
		WHERE device_id = $1
		ORDER BY created_at DESC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := make([]*Deployment, 0)
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.FirmwareID, &d.Status, &d.Trigger, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, &d)
	}
	return deployments, rows.Err()
}

func (q *queries) DeleteDeploymentsForFirmware(ctx context.Context, firmwareID uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, `DELETE FROM firmware_deployments WHERE firmware_id = $1`, firmwareID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete deployments: %w", err)
	}
	return result.RowsAffected(), nil
}
