package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const firmwareColumns = `
	id, version, model_type, status, release_notes, filename, size,
	storage_path, checksum, created_at`

func scanFirmware(row pgx.Row) (*FirmwareArtifact, error) {
	var fw FirmwareArtifact
	err := row.Scan(
		&fw.ID, &fw.Version, &fw.ModelType, &fw.Status, &fw.ReleaseNotes, &fw.Filename,
		&fw.Size, &fw.StoragePath, &fw.Checksum, &fw.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &fw, nil
}

// CreateFirmware inserts artifact metadata; the (model_type, version) index rejects duplicates
func (q *queries) CreateFirmware(ctx context.Context, fw *FirmwareArtifact) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO firmware (id, version, model_type, status, release_notes, filename,
		                      size, storage_path, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, fw.ID, fw.Version, fw.ModelType, fw.Status, fw.ReleaseNotes, fw.Filename,
		fw.Size, fw.StoragePath, fw.Checksum).Scan(&fw.CreatedAt)
	if err != nil {
		return classify(err, "firmware version for this model")
	}
	return nil
}

func (q *queries) GetFirmware(ctx context.Context, id uuid.UUID) (*FirmwareArtifact, error) {
	fw, err := scanFirmware(q.db.QueryRow(ctx, `SELECT `+firmwareColumns+` FROM firmware WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, "firmware")
	}
	return fw, nil
}

func (q *queries) FirmwareExists(ctx context.Context, modelType, version string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM firmware WHERE model_type = $1 AND version = $2)
	`, modelType, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check firmware: %w", err)
	}
	return exists, nil
}

// LatestReleasedFirmware returns the most recently created RELEASED artifact for a model
func (q *queries) LatestReleasedFirmware(ctx context.Context, modelType string) (*FirmwareArtifact, error) {
	fw, err := scanFirmware(q.db.QueryRow(ctx, `
		SELECT `+firmwareColumns+` FROM firmware
		WHERE model_type = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, modelType, ArtifactReleased))
	if err != nil {
		return nil, classify(err, "released firmware")
	}
	return fw, nil
}

func (q *queries) ListFirmware(ctx context.Context, modelType string) ([]*FirmwareArtifact, error) {
	query := `SELECT ` + firmwareColumns + ` FROM firmware`
	args := []any{}
	if modelType != "" {
		query += ` WHERE model_type = $1`
		args = append(args, modelType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list firmware: %w", err)
	}
	defer rows.Close()

	artifacts := make([]*FirmwareArtifact, 0)
	for rows.Next() {
		fw, err := scanFirmware(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan firmware: %w", err)
		}
		artifacts = append(artifacts, fw)
	}
	return artifacts, rows.Err()
}

func (q *queries) PromoteFirmware(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE firmware SET status = $2 WHERE id = $1 AND status = $3
	`, id, ArtifactReleased, ArtifactDraft)
	if err != nil {
		return false, fmt.Errorf("failed to promote firmware: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (q *queries) DeleteFirmware(ctx context.Context, id uuid.UUID) error {
	result, err := q.db.Exec(ctx, `DELETE FROM firmware WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete firmware: %w", err)
	}
	if result.RowsAffected() == 0 {
		return types.NotFound("firmware not found")
	}
	return nil
}
