package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

// RegisterPlayer creates a player row bound to the hash of a bearer token.
func (s *Store) RegisterPlayer(ctx context.Context, name, tokenHash string) (Player, error) {
	p := Player{ID: NewID(), Name: name, TokenHash: tokenHash}
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO players (id, name, token_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		p.ID, p.Name, p.TokenHash,
	).Scan(&p.CreatedAt)
	if err != nil {
		return Player{}, err
	}
	return p, nil
}

func (s *Store) GetPlayerByTokenHash(ctx context.Context, tokenHash string) (Player, error) {
	var p Player
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, token_hash, created_at
		FROM players WHERE token_hash = $1`,
		tokenHash,
	).Scan(&p.ID, &p.Name, &p.TokenHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, ErrNotFound
	}
	return p, err
}

func (s *Store) GetCharacterSummary(ctx context.Context, id string) (*session.CharacterSummary, error) {
	var c session.CharacterSummary
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, image_url FROM characters WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCharacter exists for seeding and tests; character authoring belongs
// to the campaign CRUD service.
func (s *Store) UpsertCharacter(ctx context.Context, c Character) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO characters (id, name, image_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image_url = EXCLUDED.image_url`,
		c.ID, c.Name, c.ImageURL,
	)
	return err
}
