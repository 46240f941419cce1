package session

import (
	"encoding/json"
	"time"
)

type Mode string

const (
	ModeSingle      Mode = "single"
	ModeMultiplayer Mode = "multiplayer"
)

type Status string

const (
	StatusForming Status = "forming"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)

// CharacterSummary is the slice of a character sheet that travels with
// session state. The full sheet lives in the campaign store.
type CharacterSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type Player struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	CharacterID     string            `json:"characterId,omitempty"`
	Character       *CharacterSummary `json:"character,omitempty"`
	IsHost          bool              `json:"isHost"`
	ConnectionState ConnState         `json:"connectionState"`
	JoinedAt        time.Time         `json:"joinedAt"`
	LastActivity    time.Time         `json:"lastActivity"`
}

type Scene struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// State is the authoritative view of one live session. It is always the
// result of folding the session's event log from the beginning; transient
// connection info is layered on top by the coordinator before a snapshot
// leaves the process.
type State struct {
	ID           string            `json:"id"`
	CampaignID   string            `json:"campaignId"`
	Name         string            `json:"name"`
	Mode         Mode              `json:"mode"`
	Status       Status            `json:"status"`
	Players      map[string]Player `json:"players"`
	CurrentScene *Scene            `json:"currentScene,omitempty"`
	GameState    json.RawMessage   `json:"gameState,omitempty"`
	Sequence     int64             `json:"sequence"`
	MaxPlayers   int               `json:"maxPlayers"`
	IsPrivate    bool              `json:"isPrivate"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// NewState returns the empty state a fresh log folds into.
func NewState(id, campaignID, name string, mode Mode, maxPlayers int, private bool, createdAt time.Time) State {
	return State{
		ID:         id,
		CampaignID: campaignID,
		Name:       name,
		Mode:       mode,
		Status:     StatusForming,
		Players:    map[string]Player{},
		MaxPlayers: maxPlayers,
		IsPrivate:  private,
		CreatedAt:  createdAt,
	}
}

// Clone returns a deep copy safe to hand outside the owning goroutine.
func (s State) Clone() State {
	out := s
	out.Players = make(map[string]Player, len(s.Players))
	for id, p := range s.Players {
		if p.Character != nil {
			c := *p.Character
			p.Character = &c
		}
		out.Players[id] = p
	}
	if s.CurrentScene != nil {
		sc := *s.CurrentScene
		out.CurrentScene = &sc
	}
	if s.GameState != nil {
		out.GameState = append(json.RawMessage(nil), s.GameState...)
	}
	return out
}

// Host returns the current host, if any.
func (s State) Host() (Player, bool) {
	for _, p := range s.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}
