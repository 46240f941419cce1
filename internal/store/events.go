package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

// ErrDuplicateSequence reports an insert that collided with an already
// committed (session, sequence) pair.
var ErrDuplicateSequence = errors.New("duplicate event sequence")

// AppendEvent inserts one committed event. The primary key on
// (session_id, seq) is the gap-free guarantee: a second writer or a replayed
// insert fails instead of forking the log.
func (s *Store) AppendEvent(ctx context.Context, ev session.Event) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO session_events (session_id, seq, event_type, origin_player_id, payload, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.SessionID, ev.Sequence, string(ev.Type), ev.OriginPlayerID, []byte(ev.Payload), ev.CommittedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSequence
	}
	return err
}

func (s *Store) ListEvents(ctx context.Context, sessionID string, fromSeq int64) ([]session.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, seq, event_type, origin_player_id, payload, committed_at
		FROM session_events
		WHERE session_id = $1 AND seq >= $2
		ORDER BY seq ASC`,
		sessionID, fromSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []session.Event
	for rows.Next() {
		var ev session.Event
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.SessionID, &ev.Sequence, &typ, &ev.OriginPlayerID, &payload, &ev.CommittedAt); err != nil {
			return nil, err
		}
		ev.Type = session.EventType(typ)
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM session_events WHERE session_id = $1`,
		sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
