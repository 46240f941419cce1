package session

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionFull       = errors.New("session full")
	ErrSessionEnded      = errors.New("session ended")
	ErrDuplicatePlayer   = errors.New("player already joined")
	ErrNotAMember        = errors.New("player is not a session member")
	ErrNotHost           = errors.New("operation requires host")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrEmptyMessage      = errors.New("empty chat message")
	ErrInvalidGameState  = errors.New("game state is not valid json")
)
