package session

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventPlayerJoin      EventType = "player_join"
	EventPlayerLeave     EventType = "player_leave"
	EventChatMessage     EventType = "chat_message"
	EventDiceRoll        EventType = "dice_roll"
	EventSceneChange     EventType = "scene_change"
	EventGameStateUpdate EventType = "game_state_update"
)

// Event is one committed entry of a session's log. Sequence numbers are
// dense and ascending per session, starting at 1.
type Event struct {
	SessionID      string          `json:"sessionId"`
	Sequence       int64           `json:"sequence"`
	Type           EventType       `json:"type"`
	OriginPlayerID string          `json:"originPlayerId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	CommittedAt    time.Time       `json:"committedAt"`
}

type JoinPayload struct {
	Player Player `json:"player"`
}

// LeaveReason distinguishes a voluntary leave from a reclaimed slot or a
// session shutting down.
type LeaveReason string

const (
	LeaveVoluntary LeaveReason = "left"
	LeaveReclaimed LeaveReason = "reclaimed"
)

type LeavePayload struct {
	PlayerID   string      `json:"playerId"`
	PlayerName string      `json:"playerName"`
	Reason     LeaveReason `json:"reason"`
	// NewHostID is set when the departing player held host; the fold
	// transfers ownership to this player.
	NewHostID string `json:"newHostId,omitempty"`
}

type ChatPayload struct {
	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName"`
	Message    string `json:"message"`
	Channel    string `json:"channel,omitempty"`
}

type DiceRollPayload struct {
	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName"`
	Notation   string `json:"notation"`
	Results    []int  `json:"results"`
	Modifier   int    `json:"modifier"`
	Total      int    `json:"total"`
	Reason     string `json:"reason,omitempty"`
}

type SceneChangePayload struct {
	Scene Scene `json:"scene"`
}

type GameStateUpdatePayload struct {
	GameState json.RawMessage `json:"gameState"`
}

func MarshalPayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
