package coordinator

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/broadcast"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/config"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/dice"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/eventlog"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

const inboxDepth = 128

// worker owns one session. Only its goroutine reads or writes state, the
// event log handle and the liveness overlay.
type worker struct {
	sess       *Session
	parent     context.Context
	cfg        config.SessionConfig
	elog       *eventlog.Log
	router     *broadcast.Router
	characters CharacterSource
	persist    SessionPersistence
	onStopped  func(id string)

	state      session.State
	inviteCode string
	rng        *rand.Rand

	// Liveness overlay. Connection comings and goings are not log events;
	// they layer over the folded state so a replayed log and the live
	// projection always agree.
	conns         map[string]string
	connState     map[string]session.ConnState
	reclaimTimers map[string]*time.Timer
	graceTimer    *time.Timer
	paused        bool
	ended         bool
}

func spawn(parent context.Context, cfg config.SessionConfig, elog *eventlog.Log, router *broadcast.Router,
	characters CharacterSource, persist SessionPersistence, onStopped func(string),
	state session.State, inviteCode string, startPaused bool) *Session {

	sess := &Session{
		id:    state.ID,
		inbox: make(chan any, inboxDepth),
		done:  make(chan struct{}),
	}
	w := &worker{
		sess:          sess,
		parent:        parent,
		cfg:           cfg,
		elog:          elog,
		router:        router,
		characters:    characters,
		persist:       persist,
		onStopped:     onStopped,
		state:         state,
		inviteCode:    inviteCode,
		rng:           rand.New(rand.NewSource(rngSeed())),
		conns:         map[string]string{},
		connState:     map[string]session.ConnState{},
		reclaimTimers: map[string]*time.Timer{},
	}
	if startPaused && len(state.Players) > 0 {
		w.beginPause("restored from log")
	}
	go w.run()
	return sess
}

func rngSeed() int64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func (w *worker) run() {
	defer close(w.sess.done)
	for {
		select {
		case m := <-w.sess.inbox:
			if stop := w.dispatch(m); stop {
				return
			}
		case <-w.parent.Done():
			w.shutdown(false)
			return
		}
	}
}

func (w *worker) dispatch(m any) bool {
	switch m := m.(type) {
	case joinMsg:
		m.reply <- w.handleJoin(m.params)
	case resumeMsg:
		m.reply <- w.handleResume(m)
	case watchMsg:
		m.reply <- w.handleWatch(m)
	case leaveMsg:
		m.reply <- w.handleLeave(m.playerID)
	case chatMsg:
		m.reply <- w.handleChat(m)
	case diceMsg:
		m.reply <- w.handleDice(m)
	case sceneMsg:
		m.reply <- w.handleScene(m)
	case gameStateMsg:
		m.reply <- w.handleGameState(m)
	case snapshotMsg:
		m.reply <- w.snapshot()
	case connLostMsg:
		w.handleConnLost(m)
	case reclaimExpiredMsg:
		w.handleReclaimExpired(m.playerID)
	case sessionGraceExpiredMsg:
		if !w.ended && !w.anyConnected() {
			log.Info().Str("session_id", w.state.ID).Msg("session grace expired, ending")
			w.shutdown(true)
			return true
		}
	case endMsg:
		w.shutdown(true)
		m.reply <- nil
		return true
	default:
		log.Error().Str("session_id", w.state.ID).Type("msg", m).Msg("unknown coordinator message")
	}
	return false
}

func (w *worker) handleJoin(p JoinParams) joinReply {
	if w.ended {
		return joinReply{err: session.ErrSessionEnded}
	}
	if _, exists := w.state.Players[p.PlayerID]; exists {
		return joinReply{err: session.ErrDuplicatePlayer}
	}
	if len(w.state.Players) >= w.state.MaxPlayers {
		return joinReply{err: session.ErrSessionFull}
	}
	if w.state.IsPrivate && p.InviteCode != w.inviteCode {
		return joinReply{err: session.ErrInvalidInviteCode}
	}

	now := time.Now().UTC()
	player := session.Player{
		ID:           p.PlayerID,
		Name:         p.PlayerName,
		CharacterID:  p.CharacterID,
		JoinedAt:     now,
		LastActivity: now,
	}
	if _, hasHost := w.state.Host(); !hasHost {
		player.IsHost = true
	}
	if p.CharacterID != "" && w.characters != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c, err := w.characters.GetCharacterSummary(ctx, p.CharacterID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("character_id", p.CharacterID).Msg("character lookup failed")
		} else {
			player.Character = c
		}
	}

	wasForming := w.state.Status == session.StatusForming
	wasPaused := w.paused
	ev, err := w.commit(session.EventPlayerJoin, p.PlayerID, session.JoinPayload{Player: player})
	if err != nil {
		return joinReply{err: err}
	}

	w.conns[p.PlayerID] = p.ConnID
	w.connState[p.PlayerID] = session.ConnConnected
	if wasPaused {
		w.resumeFromPause()
	}
	if wasForming || wasPaused {
		w.persistStatus("active")
	}

	ch, cancel := w.router.Subscribe(w.state.ID, p.ConnID, w.cfg.SendQueueDepth)
	log.Info().
		Str("session_id", w.state.ID).
		Str("player_id", p.PlayerID).
		Bool("host", player.IsHost).
		Int64("seq", ev.Sequence).
		Msg("player joined")
	return joinReply{res: JoinResult{State: w.snapshot(), Events: ch, Cancel: cancel}}
}

func (w *worker) handleResume(m resumeMsg) resumeReply {
	if w.ended {
		return resumeReply{err: session.ErrSessionEnded}
	}
	if _, ok := w.state.Players[m.playerID]; !ok {
		// Slot was reclaimed or never existed.
		return resumeReply{err: session.ErrNotAMember}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	replay, err := w.elog.Replay(ctx, m.lastSeq+1)
	cancel()
	if err != nil {
		return resumeReply{err: err}
	}

	w.stopReclaim(m.playerID)
	w.conns[m.playerID] = m.connID
	w.connState[m.playerID] = session.ConnConnected
	if w.paused {
		w.resumeFromPause()
		w.persistStatus("active")
	}

	ch, cancelSub := w.router.Subscribe(w.state.ID, m.connID, w.cfg.SendQueueDepth)
	log.Info().
		Str("session_id", w.state.ID).
		Str("player_id", m.playerID).
		Int64("from_seq", m.lastSeq).
		Int("replayed", len(replay)).
		Msg("player resumed")
	return resumeReply{res: ResumeResult{State: w.snapshot(), Replay: replay, Events: ch, Cancel: cancelSub}}
}

func (w *worker) handleWatch(m watchMsg) resumeReply {
	if w.ended {
		return resumeReply{err: session.ErrSessionEnded}
	}
	var replay []session.Event
	if m.fromSeq >= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		replay, err = w.elog.Replay(ctx, m.fromSeq+1)
		cancel()
		if err != nil {
			return resumeReply{err: err}
		}
	}
	ch, cancelSub := w.router.Subscribe(w.state.ID, m.connID, w.cfg.SendQueueDepth)
	return resumeReply{res: ResumeResult{State: w.snapshot(), Replay: replay, Events: ch, Cancel: cancelSub}}
}

func (w *worker) handleLeave(playerID string) error {
	if w.ended {
		return session.ErrSessionEnded
	}
	p, ok := w.state.Players[playerID]
	if !ok {
		return session.ErrNotAMember
	}
	return w.removePlayer(p, session.LeaveVoluntary)
}

func (w *worker) handleChat(m chatMsg) eventReply {
	if w.ended {
		return eventReply{err: session.ErrSessionEnded}
	}
	name := m.senderName
	if m.playerID != "" {
		p, ok := w.state.Players[m.playerID]
		if !ok {
			return eventReply{err: session.ErrNotAMember}
		}
		name = p.Name
	} else if name == "" {
		name = "GM"
	}
	msg := strings.TrimSpace(m.message)
	if msg == "" {
		return eventReply{err: session.ErrEmptyMessage}
	}
	ev, err := w.commit(session.EventChatMessage, m.playerID, session.ChatPayload{
		PlayerID:   m.playerID,
		PlayerName: name,
		Message:    msg,
		Channel:    m.channel,
	})
	return eventReply{ev: ev, err: err}
}

func (w *worker) handleDice(m diceMsg) eventReply {
	if w.ended {
		return eventReply{err: session.ErrSessionEnded}
	}
	name := "GM"
	if m.playerID != "" {
		p, ok := w.state.Players[m.playerID]
		if !ok {
			return eventReply{err: session.ErrNotAMember}
		}
		name = p.Name
	}
	roll, err := dice.New(w.rng, m.notation)
	if err != nil {
		return eventReply{err: err}
	}
	ev, err := w.commit(session.EventDiceRoll, m.playerID, session.DiceRollPayload{
		PlayerID:   m.playerID,
		PlayerName: name,
		Notation:   roll.Notation,
		Results:    roll.Results,
		Modifier:   roll.Modifier,
		Total:      roll.Total,
		Reason:     m.reason,
	})
	return eventReply{ev: ev, err: err}
}

func (w *worker) handleScene(m sceneMsg) eventReply {
	if w.ended {
		return eventReply{err: session.ErrSessionEnded}
	}
	if m.playerID != "" {
		p, ok := w.state.Players[m.playerID]
		if !ok {
			return eventReply{err: session.ErrNotAMember}
		}
		if !p.IsHost {
			return eventReply{err: session.ErrNotHost}
		}
	}
	ev, err := w.commit(session.EventSceneChange, m.playerID, session.SceneChangePayload{Scene: m.scene})
	return eventReply{ev: ev, err: err}
}

func (w *worker) handleGameState(m gameStateMsg) eventReply {
	if w.ended {
		return eventReply{err: session.ErrSessionEnded}
	}
	if _, ok := w.state.Players[m.playerID]; !ok {
		return eventReply{err: session.ErrNotAMember}
	}
	if len(m.state) == 0 || !json.Valid(m.state) {
		return eventReply{err: session.ErrInvalidGameState}
	}
	ev, err := w.commit(session.EventGameStateUpdate, m.playerID, session.GameStateUpdatePayload{GameState: m.state})
	return eventReply{ev: ev, err: err}
}

func (w *worker) handleConnLost(m connLostMsg) {
	if w.ended {
		return
	}
	if _, ok := w.state.Players[m.playerID]; !ok {
		return
	}
	// A resume on a fresh socket may already have replaced the binding.
	if cur, ok := w.conns[m.playerID]; ok && cur != m.connID {
		return
	}
	delete(w.conns, m.playerID)
	w.connState[m.playerID] = session.ConnDisconnected
	w.startReclaim(m.playerID)
	log.Info().
		Str("session_id", w.state.ID).
		Str("player_id", m.playerID).
		Dur("grace", w.cfg.PlayerReclaimGrace).
		Msg("player disconnected, holding slot")
	if !w.anyConnected() {
		w.beginPause("all players disconnected")
		w.persistStatus("paused")
	}
}

func (w *worker) handleReclaimExpired(playerID string) {
	if w.ended {
		return
	}
	p, ok := w.state.Players[playerID]
	if !ok || w.connState[playerID] != session.ConnDisconnected {
		return
	}
	delete(w.reclaimTimers, playerID)
	log.Info().
		Str("session_id", w.state.ID).
		Str("player_id", playerID).
		Msg("reclaim grace expired, releasing slot")
	if err := w.removePlayer(p, session.LeaveReclaimed); err != nil {
		log.Error().Err(err).Str("session_id", w.state.ID).Msg("slot reclaim failed")
	}
}

// removePlayer commits the leave event, transferring host if needed, and
// tears down the player's overlay entries.
func (w *worker) removePlayer(p session.Player, reason session.LeaveReason) error {
	var newHost string
	if p.IsHost {
		newHost = w.nextHost(p.ID)
	}
	_, err := w.commit(session.EventPlayerLeave, p.ID, session.LeavePayload{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Reason:     reason,
		NewHostID:  newHost,
	})
	if err != nil {
		return err
	}
	w.stopReclaim(p.ID)
	delete(w.conns, p.ID)
	delete(w.connState, p.ID)
	if newHost != "" {
		log.Info().
			Str("session_id", w.state.ID).
			Str("old_host", p.ID).
			Str("new_host", newHost).
			Msg("host transferred")
	}
	if len(w.state.Players) == 0 {
		w.beginPause("last player left")
	} else if !w.anyConnected() {
		w.beginPause("no connected players")
	}
	return nil
}

// nextHost picks the next-joined player, preferring ones still connected.
// Members whose slots are merely disconnected stay eligible so a session
// never goes hostless while it has players.
func (w *worker) nextHost(exclude string) string {
	type cand struct {
		id        string
		joined    time.Time
		connected bool
	}
	var cands []cand
	for id, p := range w.state.Players {
		if id == exclude {
			continue
		}
		cands = append(cands, cand{
			id:        id,
			joined:    p.JoinedAt,
			connected: w.connState[id] == session.ConnConnected,
		})
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].connected != cands[j].connected {
			return cands[i].connected
		}
		if !cands[i].joined.Equal(cands[j].joined) {
			return cands[i].joined.Before(cands[j].joined)
		}
		return cands[i].id < cands[j].id
	})
	return cands[0].id
}

// commit is the single write path: append to the log, fold into state,
// broadcast. An append failure rejects the operation with no state change.
func (w *worker) commit(typ session.EventType, origin string, payload any) (session.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := w.elog.Append(ctx, typ, origin, payload)
	if err != nil {
		return session.Event{}, err
	}
	if err := session.ApplyEvent(&w.state, ev); err != nil {
		// The event is durable; a fold bug here is fatal for this session.
		log.Error().Err(err).Str("session_id", w.state.ID).Int64("seq", ev.Sequence).Msg("apply committed event")
		return session.Event{}, err
	}
	w.router.Publish(ev)
	return ev, nil
}

func (w *worker) snapshot() session.State {
	st := w.state.Clone()
	for id, p := range st.Players {
		cs, ok := w.connState[id]
		if !ok {
			cs = session.ConnDisconnected
		}
		p.ConnectionState = cs
		st.Players[id] = p
	}
	switch {
	case w.ended:
		st.Status = session.StatusEnded
	case w.paused:
		st.Status = session.StatusPaused
	}
	return st
}

func (w *worker) startReclaim(playerID string) {
	w.stopReclaim(playerID)
	w.reclaimTimers[playerID] = time.AfterFunc(w.cfg.PlayerReclaimGrace, func() {
		select {
		case w.sess.inbox <- reclaimExpiredMsg{playerID: playerID}:
		case <-w.sess.done:
		}
	})
}

func (w *worker) stopReclaim(playerID string) {
	if t, ok := w.reclaimTimers[playerID]; ok {
		t.Stop()
		delete(w.reclaimTimers, playerID)
	}
}

func (w *worker) beginPause(reason string) {
	if w.paused {
		return
	}
	w.paused = true
	w.graceTimer = time.AfterFunc(w.cfg.SessionGrace, func() {
		select {
		case w.sess.inbox <- sessionGraceExpiredMsg{}:
		case <-w.sess.done:
		}
	})
	log.Info().
		Str("session_id", w.state.ID).
		Str("reason", reason).
		Dur("grace", w.cfg.SessionGrace).
		Msg("session paused")
}

func (w *worker) resumeFromPause() {
	w.paused = false
	if w.graceTimer != nil {
		w.graceTimer.Stop()
		w.graceTimer = nil
	}
	log.Info().Str("session_id", w.state.ID).Msg("session resumed")
}

func (w *worker) anyConnected() bool {
	for _, cs := range w.connState {
		if cs == session.ConnConnected {
			return true
		}
	}
	return false
}

// shutdown tears the coordinator down. markEnded distinguishes a session
// that is over from a server going down with live sessions to restore.
func (w *worker) shutdown(markEnded bool) {
	for id := range w.reclaimTimers {
		w.stopReclaim(id)
	}
	if w.graceTimer != nil {
		w.graceTimer.Stop()
	}
	if markEnded {
		w.ended = true
		w.elog.Close()
		w.persistStatus("ended")
	} else if w.paused {
		w.persistStatus("paused")
	}
	w.router.CloseSession(w.state.ID)
	if w.onStopped != nil {
		w.onStopped(w.state.ID)
	}
	log.Info().Str("session_id", w.state.ID).Bool("ended", markEnded).Msg("session coordinator stopped")
}

func (w *worker) persistStatus(status string) {
	if w.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.persist.MarkSessionStatus(ctx, w.state.ID, status); err != nil {
		log.Error().Err(err).Str("session_id", w.state.ID).Str("status", status).Msg("persist session status")
	}
}
