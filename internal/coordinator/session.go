// Package coordinator serializes all writes to a live session through one
// goroutine per session. Every mutation is validated, committed to the event
// log, folded into the in-memory state, then broadcast, in that order; no
// lock covers session state because only the owning goroutine touches it.
package coordinator

import (
	"context"
	"encoding/json"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

// Session is the concurrency-safe handle to one session's coordinator.
// Methods may be called from any goroutine; they funnel typed messages into
// the worker's inbox and wait for the reply.
type Session struct {
	id    string
	inbox chan any
	done  chan struct{}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Done is closed once the coordinator has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) send(ctx context.Context, m any) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return session.ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, s *Session, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		// The worker replies before shutting down; prefer a queued reply
		// over reporting the session gone.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, session.ErrSessionEnded
		}
	}
}

// Join claims a slot, commits the join event and opens the live
// subscription in one step.
func (s *Session) Join(ctx context.Context, params JoinParams) (JoinResult, error) {
	m := joinMsg{params: params, reply: make(chan joinReply, 1)}
	if err := s.send(ctx, m); err != nil {
		return JoinResult{}, err
	}
	r, err := await(ctx, s, m.reply)
	if err != nil {
		return JoinResult{}, err
	}
	return r.res, r.err
}

// Resume re-attaches a disconnected player. lastSeq is the highest sequence
// the client saw; the result replays everything after it and splices the
// live channel at the exact boundary.
func (s *Session) Resume(ctx context.Context, playerID, connID string, lastSeq int64) (ResumeResult, error) {
	m := resumeMsg{playerID: playerID, connID: connID, lastSeq: lastSeq, reply: make(chan resumeReply, 1)}
	if err := s.send(ctx, m); err != nil {
		return ResumeResult{}, err
	}
	r, err := await(ctx, s, m.reply)
	if err != nil {
		return ResumeResult{}, err
	}
	return r.res, r.err
}

// Watch opens a read-only subscription without claiming a player slot.
// fromSeq < 0 skips catch-up and starts from the current sequence.
func (s *Session) Watch(ctx context.Context, connID string, fromSeq int64) (ResumeResult, error) {
	m := watchMsg{connID: connID, fromSeq: fromSeq, reply: make(chan resumeReply, 1)}
	if err := s.send(ctx, m); err != nil {
		return ResumeResult{}, err
	}
	r, err := await(ctx, s, m.reply)
	if err != nil {
		return ResumeResult{}, err
	}
	return r.res, r.err
}

// Leave releases the player's slot voluntarily.
func (s *Session) Leave(ctx context.Context, playerID string) error {
	m := leaveMsg{playerID: playerID, reply: make(chan error, 1)}
	if err := s.send(ctx, m); err != nil {
		return err
	}
	res, err := await(ctx, s, m.reply)
	if err != nil {
		return err
	}
	return res
}

// SendChat commits a chat message from a member.
func (s *Session) SendChat(ctx context.Context, playerID, message, channel string) (session.Event, error) {
	m := chatMsg{playerID: playerID, message: message, channel: channel, reply: make(chan eventReply, 1)}
	return s.eventOp(ctx, m, m.reply)
}

// Narrate commits a system chat message attributed to the game master.
func (s *Session) Narrate(ctx context.Context, senderName, message string) (session.Event, error) {
	m := chatMsg{senderName: senderName, message: message, channel: "system", reply: make(chan eventReply, 1)}
	return s.eventOp(ctx, m, m.reply)
}

// RollDice resolves dice notation server-side and commits the result.
func (s *Session) RollDice(ctx context.Context, playerID, notation, reason string) (session.Event, error) {
	m := diceMsg{playerID: playerID, notation: notation, reason: reason, reply: make(chan eventReply, 1)}
	return s.eventOp(ctx, m, m.reply)
}

// ChangeScene commits a scene transition. A non-empty playerID must belong
// to the host; an empty one is the game master surface.
func (s *Session) ChangeScene(ctx context.Context, playerID string, scene session.Scene) (session.Event, error) {
	m := sceneMsg{playerID: playerID, scene: scene, reply: make(chan eventReply, 1)}
	return s.eventOp(ctx, m, m.reply)
}

// UpdateGameState replaces the opaque shared game state blob.
func (s *Session) UpdateGameState(ctx context.Context, playerID string, state json.RawMessage) (session.Event, error) {
	m := gameStateMsg{playerID: playerID, state: state, reply: make(chan eventReply, 1)}
	return s.eventOp(ctx, m, m.reply)
}

// Snapshot returns the current merged view of the session.
func (s *Session) Snapshot(ctx context.Context) (session.State, error) {
	m := snapshotMsg{reply: make(chan session.State, 1)}
	if err := s.send(ctx, m); err != nil {
		return session.State{}, err
	}
	return await(ctx, s, m.reply)
}

// End shuts the session down for good.
func (s *Session) End(ctx context.Context) error {
	m := endMsg{reply: make(chan error, 1)}
	if err := s.send(ctx, m); err != nil {
		return err
	}
	res, err := await(ctx, s, m.reply)
	if err != nil {
		return err
	}
	return res
}

// ConnectionLost tells the coordinator a member's socket died. The slot is
// held through the reclaim grace period in case the player resumes.
func (s *Session) ConnectionLost(connID, playerID string) {
	select {
	case s.inbox <- connLostMsg{connID: connID, playerID: playerID}:
	case <-s.done:
	}
}

func (s *Session) eventOp(ctx context.Context, m any, reply chan eventReply) (session.Event, error) {
	if err := s.send(ctx, m); err != nil {
		return session.Event{}, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return session.Event{}, err
	}
	return r.ev, r.err
}
