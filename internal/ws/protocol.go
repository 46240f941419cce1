package ws

import (
	"encoding/json"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

// Client frame types.
const (
	FrameJoinSession     = "join_session"
	FrameResumeSession   = "resume_session"
	FrameLeaveSession    = "leave_session"
	FrameChatMessage     = "chat_message"
	FrameDiceRoll        = "dice_roll"
	FrameChangeScene     = "change_scene"
	FrameUpdateGameState = "update_game_state"
	FramePing            = "ping"
)

// Server frame types.
const (
	FrameSessionState = "session_state"
	FrameEvent        = "event"
	FrameError        = "error"
	FramePong         = "pong"
	FrameSessionEnded = "session_ended"
	// FrameResyncRequired tells a client its event stream was cut while the
	// session lives on (it fell behind); it must reconnect and resume.
	FrameResyncRequired = "resync_required"
	FrameLeftSession    = "left_session"
)

type JoinFrame struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	SessionID   string `json:"sessionId,omitempty"`
	CharacterID string `json:"characterId,omitempty"`
	InviteCode  string `json:"inviteCode,omitempty"`
}

type ResumeFrame struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	SessionID string `json:"sessionId,omitempty"`
	// LastKnownSequence is the highest sequence the client applied before
	// losing the connection; everything after it is replayed.
	LastKnownSequence int64 `json:"lastKnownSequence"`
}

type ChatFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
}

type DiceFrame struct {
	Type     string `json:"type"`
	Notation string `json:"notation"`
	Reason   string `json:"reason,omitempty"`
}

type SceneFrame struct {
	Type  string        `json:"type"`
	Scene session.Scene `json:"scene"`
}

type GameStateFrame struct {
	Type      string          `json:"type"`
	GameState json.RawMessage `json:"gameState"`
}

type StateFrame struct {
	Type  string        `json:"type"`
	State session.State `json:"state"`
}

type EventFrame struct {
	Type   string        `json:"type"`
	Replay bool          `json:"replay,omitempty"`
	Event  session.Event `json:"event"`
}

type ErrorFrame struct {
	Type string `json:"type"`
	Op   string `json:"op,omitempty"`
	Code string `json:"code"`
}

type ControlFrame struct {
	Type string `json:"type"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","code":"internal_error"}`)
	}
	return b
}
