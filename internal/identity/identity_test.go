package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
)

type memPlayerStore struct {
	mu     sync.Mutex
	byHash map[string]store.Player
}

func newMemPlayerStore() *memPlayerStore {
	return &memPlayerStore{byHash: map[string]store.Player{}}
}

func (m *memPlayerStore) RegisterPlayer(_ context.Context, name, tokenHash string) (store.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := store.Player{ID: store.NewID(), Name: name, TokenHash: tokenHash}
	m.byHash[tokenHash] = p
	return p, nil
}

func (m *memPlayerStore) GetPlayerByTokenHash(_ context.Context, tokenHash string) (store.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byHash[tokenHash]
	if !ok {
		return store.Player{}, store.ErrNotFound
	}
	return p, nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(newMemPlayerStore())
	ctx := context.Background()

	player, token, err := svc.Register(ctx, "  Alice  ")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if player.Name != "Alice" {
		t.Fatalf("Name = %q, want trimmed Alice", player.Name)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	got, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != player.ID {
		t.Fatalf("authenticated player %q, want %q", got.ID, player.ID)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := NewService(newMemPlayerStore())
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token err = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.Authenticate(ctx, "deadbeef"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token err = %v, want ErrInvalidToken", err)
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	svc := NewService(newMemPlayerStore())
	if _, _, err := svc.Register(context.Background(), "   "); err == nil {
		t.Fatal("blank name accepted")
	}
}

func TestTokensAreUnique(t *testing.T) {
	svc := NewService(newMemPlayerStore())
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		_, token, err := svc.Register(ctx, "bot")
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if seen[token] {
			t.Fatal("duplicate token issued")
		}
		seen[token] = true
	}
}
