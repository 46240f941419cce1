package store

import "time"

type Player struct {
	ID        string
	Name      string
	TokenHash string
	CreatedAt time.Time
}

type Character struct {
	ID        string
	Name      string
	ImageURL  string
	CreatedAt time.Time
}

// SessionRow is the persisted session record. It doubles as the archived
// view served over the API once a session has ended, so the invite code
// never marshals.
type SessionRow struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaignId"`
	Name       string     `json:"name"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	IsPrivate  bool       `json:"isPrivate"`
	InviteCode string     `json:"-"`
	MaxPlayers int        `json:"maxPlayers"`
	CreatedAt  time.Time  `json:"createdAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}
