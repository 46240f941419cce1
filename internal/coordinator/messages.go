package coordinator

import (
	"encoding/json"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

// JoinParams describes a player claiming a slot in a session.
type JoinParams struct {
	PlayerID    string
	PlayerName  string
	CharacterID string
	InviteCode  string
	ConnID      string
}

// JoinResult carries the post-join snapshot and the live event subscription
// opened atomically with the join, so no event between the two can be lost.
type JoinResult struct {
	State  session.State
	Events <-chan session.Event
	Cancel func()
}

// ResumeResult is JoinResult plus the catch-up slice: every event the player
// missed, in order, ending exactly where the live channel begins.
type ResumeResult struct {
	State  session.State
	Replay []session.Event
	Events <-chan session.Event
	Cancel func()
}

type joinMsg struct {
	params JoinParams
	reply  chan joinReply
}

type joinReply struct {
	res JoinResult
	err error
}

type resumeMsg struct {
	playerID string
	connID   string
	lastSeq  int64
	reply    chan resumeReply
}

type watchMsg struct {
	connID  string
	fromSeq int64
	reply   chan resumeReply
}

type resumeReply struct {
	res ResumeResult
	err error
}

type leaveMsg struct {
	playerID string
	reply    chan error
}

type chatMsg struct {
	playerID   string // empty for system narration
	senderName string
	message    string
	channel    string
	reply      chan eventReply
}

type diceMsg struct {
	playerID string
	notation string
	reason   string
	reply    chan eventReply
}

type sceneMsg struct {
	playerID string // empty when the game master surface drives the change
	scene    session.Scene
	reply    chan eventReply
}

type gameStateMsg struct {
	playerID string
	state    json.RawMessage
	reply    chan eventReply
}

type eventReply struct {
	ev  session.Event
	err error
}

type snapshotMsg struct {
	reply chan session.State
}

type endMsg struct {
	reply chan error
}

type connLostMsg struct {
	connID   string
	playerID string
}

type reclaimExpiredMsg struct {
	playerID string
}

type sessionGraceExpiredMsg struct{}
