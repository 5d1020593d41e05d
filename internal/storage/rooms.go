package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetRoom loads a room together with the owner of its team
func (q *queries) GetRoom(ctx context.Context, roomID uuid.UUID) (*Room, error) {
	var r Room
	err := q.db.QueryRow(ctx, `
		SELECT r.id, r.team_id, r.name, t.owner_id
		FROM rooms r
		JOIN teams t ON t.id = r.team_id
		WHERE r.id = $1
	`, roomID).Scan(&r.ID, &r.TeamID, &r.Name, &r.OwnerID)
	if err != nil {
		return nil, classify(err, "room")
	}
	return &r, nil
}

func (q *queries) IsTeamMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error) {
	var member bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id = $1 AND user_id = $2)
	`, teamID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return member, nil
}
