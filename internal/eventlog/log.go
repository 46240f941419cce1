// Package eventlog provides the append-only per-session event log that the
// coordinator commits every state change through. Sequence numbers are dense,
// ascending and survive process restarts when backed by a durable store.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

var ErrClosed = errors.New("event log closed")

const (
	appendAttempts = 3
	appendBackoff  = 50 * time.Millisecond
)

// Store persists committed events. Implementations must reject duplicate
// (session, sequence) pairs so a buggy writer cannot silently fork a log.
type Store interface {
	AppendEvent(ctx context.Context, ev session.Event) error
	ListEvents(ctx context.Context, sessionID string, fromSeq int64) ([]session.Event, error)
	LastSequence(ctx context.Context, sessionID string) (int64, error)
}

// Log is the single-writer handle for one session's event history. It is
// owned by that session's coordinator goroutine and is not safe for
// concurrent use.
type Log struct {
	store     Store
	sessionID string
	seq       int64
	closed    bool
}

// Open reads the durable watermark so sequence numbering continues where a
// previous process left off.
func Open(ctx context.Context, store Store, sessionID string) (*Log, error) {
	seq, err := store.LastSequence(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Log{store: store, sessionID: sessionID, seq: seq}, nil
}

// Sequence returns the highest committed sequence number.
func (l *Log) Sequence() int64 { return l.seq }

// Append commits one event at the next sequence number. The sequence is
// assigned here; callers never pick their own. Transient store failures are
// retried with backoff before the operation is rejected.
func (l *Log) Append(ctx context.Context, typ session.EventType, originPlayerID string, payload any) (session.Event, error) {
	if l.closed {
		return session.Event{}, ErrClosed
	}
	ev := session.Event{
		SessionID:      l.sessionID,
		Sequence:       l.seq + 1,
		Type:           typ,
		OriginPlayerID: originPlayerID,
		Payload:        session.MarshalPayload(payload),
		CommittedAt:    time.Now().UTC(),
	}

	var err error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		if err = l.store.AppendEvent(ctx, ev); err == nil {
			l.seq = ev.Sequence
			return ev, nil
		}
		// The insert can commit and still report an error (connection reset
		// after commit, duplicate-key on the retry that follows). This handle
		// is the session's only writer, so a durable watermark at our
		// sequence means the write landed; retrying would wedge the log at
		// this sequence forever.
		if last, lerr := l.store.LastSequence(ctx, l.sessionID); lerr == nil && last >= ev.Sequence {
			log.Warn().
				Str("session_id", l.sessionID).
				Int64("seq", ev.Sequence).
				Msg("append ack lost but event is durable, treating as committed")
			l.seq = ev.Sequence
			return ev, nil
		}
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).
			Str("session_id", l.sessionID).
			Int64("seq", ev.Sequence).
			Int("attempt", attempt).
			Msg("event append failed, retrying")
		select {
		case <-time.After(time.Duration(attempt) * appendBackoff):
		case <-ctx.Done():
			return session.Event{}, ctx.Err()
		}
	}
	return session.Event{}, err
}

// Replay returns all committed events with sequence >= fromSeq, in order.
func (l *Log) Replay(ctx context.Context, fromSeq int64) ([]session.Event, error) {
	return l.store.ListEvents(ctx, l.sessionID, fromSeq)
}

// Close marks the log finished; further appends fail with ErrClosed.
func (l *Log) Close() { l.closed = true }
