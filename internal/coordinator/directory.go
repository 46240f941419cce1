package coordinator

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/broadcast"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/config"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/eventlog"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
)

// CharacterSource resolves a character id to the summary that travels with
// session state.
type CharacterSource interface {
	GetCharacterSummary(ctx context.Context, id string) (*session.CharacterSummary, error)
}

// SessionPersistence keeps the durable session index in step with the live
// coordinators so the directory can restore them after a restart.
type SessionPersistence interface {
	CreateSession(ctx context.Context, row store.SessionRow) error
	MarkSessionStatus(ctx context.Context, id, status string) error
	ListOpenSessions(ctx context.Context) ([]store.SessionRow, error)
}

// CreateParams describes a new session.
type CreateParams struct {
	CampaignID string
	Name       string
	Mode       session.Mode
	MaxPlayers int
	Private    bool
}

// Directory owns every live session coordinator in the process.
type Directory struct {
	mu       sync.Mutex
	sessions map[string]*Session

	baseCtx    context.Context
	cfg        config.SessionConfig
	durable    eventlog.Store
	memory     *eventlog.MemoryStore
	persist    SessionPersistence
	characters CharacterSource
	router     *broadcast.Router
}

func NewDirectory(baseCtx context.Context, cfg config.SessionConfig, durable eventlog.Store,
	persist SessionPersistence, characters CharacterSource, router *broadcast.Router) *Directory {
	return &Directory{
		sessions:   map[string]*Session{},
		baseCtx:    baseCtx,
		cfg:        cfg,
		durable:    durable,
		memory:     eventlog.NewMemoryStore(),
		persist:    persist,
		characters: characters,
		router:     router,
	}
}

// Create starts a coordinator for a fresh session. Multiplayer sessions log
// to the durable store and are listed in the session index; single-player
// sessions live entirely in memory. The returned invite code is only set for
// private sessions and is shown once, to the creator.
func (d *Directory) Create(ctx context.Context, p CreateParams) (*Session, session.State, string, error) {
	if p.Name == "" {
		return nil, session.State{}, "", fmt.Errorf("session name required")
	}
	if p.Mode == "" {
		p.Mode = session.ModeMultiplayer
	}
	maxPlayers := p.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = d.cfg.MaxPlayers
	}
	if maxPlayers > d.cfg.MaxPlayersHard {
		maxPlayers = d.cfg.MaxPlayersHard
	}
	if p.Mode == session.ModeSingle {
		maxPlayers = 1
	}

	id := store.NewID()
	inviteCode := ""
	if p.Private {
		inviteCode = newInviteCode()
	}
	state := session.NewState(id, p.CampaignID, p.Name, p.Mode, maxPlayers, p.Private, time.Now().UTC())

	elogStore := eventlog.Store(d.durable)
	persist := d.persist
	if p.Mode == session.ModeSingle {
		elogStore = d.memory
		persist = nil
	}
	elog, err := eventlog.Open(ctx, elogStore, id)
	if err != nil {
		return nil, session.State{}, "", err
	}
	if persist != nil {
		row := store.SessionRow{
			ID:         id,
			CampaignID: p.CampaignID,
			Name:       p.Name,
			Mode:       string(p.Mode),
			Status:     string(session.StatusForming),
			IsPrivate:  p.Private,
			InviteCode: inviteCode,
			MaxPlayers: maxPlayers,
			CreatedAt:  state.CreatedAt,
		}
		if err := persist.CreateSession(ctx, row); err != nil {
			return nil, session.State{}, "", err
		}
	}

	sess := spawn(d.baseCtx, d.cfg, elog, d.router, d.characters, persist, d.remove, state, inviteCode, false)
	d.mu.Lock()
	d.sessions[id] = sess
	d.mu.Unlock()

	log.Info().
		Str("session_id", id).
		Str("campaign_id", p.CampaignID).
		Str("mode", string(p.Mode)).
		Bool("private", p.Private).
		Msg("session created")
	return sess, state, inviteCode, nil
}

// Restore refolds every non-ended session from its event log and restarts
// its coordinator, paused, with all slots disconnected. Players resume with
// their last known sequence exactly as after a network drop.
func (d *Directory) Restore(ctx context.Context) error {
	if d.persist == nil {
		return nil
	}
	rows, err := d.persist.ListOpenSessions(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		elog, err := eventlog.Open(ctx, d.durable, row.ID)
		if err != nil {
			return fmt.Errorf("open log for %s: %w", row.ID, err)
		}
		events, err := elog.Replay(ctx, 1)
		if err != nil {
			return fmt.Errorf("replay %s: %w", row.ID, err)
		}
		base := session.NewState(row.ID, row.CampaignID, row.Name, session.Mode(row.Mode),
			row.MaxPlayers, row.IsPrivate, row.CreatedAt)
		state, err := session.Fold(base, events)
		if err != nil {
			return fmt.Errorf("fold %s: %w", row.ID, err)
		}

		sess := spawn(d.baseCtx, d.cfg, elog, d.router, d.characters, d.persist, d.remove, state, row.InviteCode, true)
		d.mu.Lock()
		d.sessions[row.ID] = sess
		d.mu.Unlock()
		log.Info().
			Str("session_id", row.ID).
			Int64("seq", state.Sequence).
			Int("players", len(state.Players)).
			Msg("session restored")
	}
	return nil
}

// Get returns the live coordinator for a session id.
func (d *Directory) Get(id string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

// List snapshots every live session, newest first.
func (d *Directory) List(ctx context.Context) []session.State {
	d.mu.Lock()
	handles := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		handles = append(handles, s)
	}
	d.mu.Unlock()

	out := make([]session.State, 0, len(handles))
	for _, s := range handles {
		snapCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		st, err := s.Snapshot(snapCtx)
		cancel()
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (d *Directory) remove(id string) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
	d.memory.DropSession(id)
}

// StartJanitor periodically sweeps coordinator handles whose goroutines have
// exited, and reports a liveness gauge.
func (d *Directory) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.sweep()
			}
		}
	}()
}

func (d *Directory) sweep() {
	d.mu.Lock()
	var dead []string
	for id, s := range d.sessions {
		select {
		case <-s.Done():
			dead = append(dead, id)
		default:
		}
	}
	for _, id := range dead {
		delete(d.sessions, id)
	}
	n := len(d.sessions)
	d.mu.Unlock()
	for _, id := range dead {
		d.memory.DropSession(id)
	}
	log.Debug().Int("live_sessions", n).Int("swept", len(dead)).Msg("session janitor pass")
}

func newInviteCode() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	var b [6]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b[:])
}
