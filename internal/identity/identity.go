// Package identity issues and checks player bearer tokens. Tokens are random
// and only their sha256 digest is stored.
package identity

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
)

var ErrInvalidToken = errors.New("invalid player token")

const maxNameLen = 64

type PlayerStore interface {
	RegisterPlayer(ctx context.Context, name, tokenHash string) (store.Player, error)
	GetPlayerByTokenHash(ctx context.Context, tokenHash string) (store.Player, error)
}

type Service struct {
	players PlayerStore
}

func NewService(players PlayerStore) *Service {
	return &Service{players: players}
}

// Register creates a player and returns the one-time-visible bearer token.
func (s *Service) Register(ctx context.Context, name string) (store.Player, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Player{}, "", fmt.Errorf("player name required")
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	var raw [32]byte
	if _, err := cryptorand.Read(raw[:]); err != nil {
		return store.Player{}, "", err
	}
	token := hex.EncodeToString(raw[:])
	p, err := s.players.RegisterPlayer(ctx, name, store.HashToken(token))
	if err != nil {
		return store.Player{}, "", err
	}
	return p, token, nil
}

// Authenticate resolves a bearer token to its player.
func (s *Service) Authenticate(ctx context.Context, token string) (store.Player, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.Player{}, ErrInvalidToken
	}
	p, err := s.players.GetPlayerByTokenHash(ctx, store.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return store.Player{}, ErrInvalidToken
	}
	return p, err
}
