package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/google/uuid"
)

// Machine Token Methods
func (q *queries) CreateMachineToken(ctx context.Context, t *MachineToken) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO machine_tokens (id, token_hash, name, permissions, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, t.ID, t.TokenHash, t.Name, t.Permissions, t.CreatedBy).Scan(&t.CreatedAt)
	if err != nil {
		return classify(err, "machine token")
	}
	return nil
}

func (q *queries) GetMachineTokenByHash(ctx context.Context, tokenHash string) (*MachineToken, error) {
	var token MachineToken
	err := q.db.QueryRow(ctx, `
		SELECT id, token_hash, name, permissions, created_at, last_used_at, created_by
		FROM machine_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&token.ID, &token.TokenHash, &token.Name, &token.Permissions,
		&token.CreatedAt, &token.LastUsedAt, &token.CreatedBy,
	)
	if err != nil {
		return nil, classify(err, "token")
	}
	return &token, nil
}

func (q *queries) UpdateMachineTokenLastUsed(ctx context.Context, tokenID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE machine_tokens SET last_used_at = NOW() WHERE id = $1
	`, tokenID)
	return err
}

func (q *queries) ListMachineTokens(ctx context.Context) ([]*MachineToken, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, permissions, created_at, last_used_at, created_by
		FROM machine_tokens
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list machine tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*MachineToken, 0)
	for rows.Next() {
		var token MachineToken
		err := rows.Scan(
			&token.ID, &token.Name, &token.Permissions, &token.CreatedAt,
			&token.LastUsedAt, &token.CreatedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine token: %w", err)
		}
		tokens = append(tokens, &token)
	}
	return tokens, rows.Err()
}

func (q *queries) DeleteMachineToken(ctx context.Context, tokenID uuid.UUID) error {
	result, err := q.db.Exec(ctx, `DELETE FROM machine_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to delete machine token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return types.NotFound("machine token not found")
	}
	return nil
}
