package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) CreateSession(ctx context.Context, row SessionRow) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions (id, campaign_id, name, mode, status, is_private, invite_code, max_players, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID, row.CampaignID, row.Name, row.Mode, row.Status,
		row.IsPrivate, row.InviteCode, row.MaxPlayers, row.CreatedAt,
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (SessionRow, error) {
	var row SessionRow
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, campaign_id, name, mode, status, is_private, invite_code, max_players, created_at, ended_at
		FROM sessions WHERE id = $1`,
		id,
	).Scan(&row.ID, &row.CampaignID, &row.Name, &row.Mode, &row.Status,
		&row.IsPrivate, &row.InviteCode, &row.MaxPlayers, &row.CreatedAt, &row.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, ErrNotFound
	}
	return row, err
}

// ListOpenSessions returns sessions that were live when last persisted;
// the directory restores their coordinators at boot.
func (s *Store) ListOpenSessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, campaign_id, name, mode, status, is_private, invite_code, max_players, created_at, ended_at
		FROM sessions
		WHERE status != 'ended'
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		if err := rows.Scan(&row.ID, &row.CampaignID, &row.Name, &row.Mode, &row.Status,
			&row.IsPrivate, &row.InviteCode, &row.MaxPlayers, &row.CreatedAt, &row.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) MarkSessionStatus(ctx context.Context, id, status string) error {
	var endedAt any
	if status == "ended" {
		endedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE sessions SET status = $2, ended_at = COALESCE($3, ended_at) WHERE id = $1`,
		id, status, endedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
