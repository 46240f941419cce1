// Package ws is the realtime player transport. One goroutine reads client
// frames and forwards operations to the session coordinator; a second drains
// the outbound queue so a stalled socket never blocks a session.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/coordinator"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/identity"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/registry"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/transport/apierr"
)

const (
	sendQueueDepth = 64
	maxFrameBytes  = 64 * 1024
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 15 * time.Second
	opTimeout      = 10 * time.Second
)

type Server struct {
	dir      *coordinator.Directory
	ids      *identity.Service
	reg      *registry.Registry
	upgrader websocket.Upgrader
}

func NewServer(dir *coordinator.Directory, ids *identity.Service, reg *registry.Registry) *Server {
	return &Server{
		dir:      dir,
		ids:      ids,
		reg:      reg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	connID    string
	sessionID string
	playerID  string
	sess      *coordinator.Session
	cancelSub func()
	pumpDone  chan struct{}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
		connID: store.NewID(),
	}
	go c.writeLoop()
	s.readLoop(c, r.URL.Query().Get("session_id"))
}

func (s *Server) readLoop(c *client, querySessionID string) {
	defer s.teardown(c)

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			c.sendError(base.Type, "bad_frame")
			continue
		}

		switch base.Type {
		case FrameJoinSession:
			var f JoinFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				c.sendError(base.Type, "bad_frame")
				continue
			}
			s.handleJoin(c, f, querySessionID)
		case FrameResumeSession:
			var f ResumeFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				c.sendError(base.Type, "bad_frame")
				continue
			}
			s.handleResume(c, f, querySessionID)
		case FrameLeaveSession:
			if c.sess == nil {
				c.sendError(base.Type, "not_in_session")
				continue
			}
			ctx, cancel := opContext()
			err := c.sess.Leave(ctx, c.playerID)
			cancel()
			if err != nil {
				c.replyErr(base.Type, err)
				continue
			}
			c.trySend(mustJSON(ControlFrame{Type: FrameLeftSession}))
		case FrameChatMessage:
			var f ChatFrame
			if err := json.Unmarshal(msg, &f); err != nil || c.sess == nil {
				c.sendError(base.Type, "not_in_session")
				continue
			}
			ctx, cancel := opContext()
			_, err := c.sess.SendChat(ctx, c.playerID, f.Message, f.Channel)
			cancel()
			c.replyErr(base.Type, err)
		case FrameDiceRoll:
			var f DiceFrame
			if err := json.Unmarshal(msg, &f); err != nil || c.sess == nil {
				c.sendError(base.Type, "not_in_session")
				continue
			}
			ctx, cancel := opContext()
			_, err := c.sess.RollDice(ctx, c.playerID, f.Notation, f.Reason)
			cancel()
			c.replyErr(base.Type, err)
		case FrameChangeScene:
			var f SceneFrame
			if err := json.Unmarshal(msg, &f); err != nil || c.sess == nil {
				c.sendError(base.Type, "not_in_session")
				continue
			}
			ctx, cancel := opContext()
			_, err := c.sess.ChangeScene(ctx, c.playerID, f.Scene)
			cancel()
			c.replyErr(base.Type, err)
		case FrameUpdateGameState:
			var f GameStateFrame
			if err := json.Unmarshal(msg, &f); err != nil || c.sess == nil {
				c.sendError(base.Type, "not_in_session")
				continue
			}
			ctx, cancel := opContext()
			_, err := c.sess.UpdateGameState(ctx, c.playerID, f.GameState)
			cancel()
			c.replyErr(base.Type, err)
		case FramePing:
			c.trySend(mustJSON(ControlFrame{Type: FramePong}))
		default:
			c.sendError(base.Type, "unknown_frame")
		}
	}
}

func (s *Server) handleJoin(c *client, f JoinFrame, querySessionID string) {
	if c.sess != nil {
		c.sendError(FrameJoinSession, "already_in_session")
		return
	}
	ctx, cancel := opContext()
	defer cancel()

	player, err := s.ids.Authenticate(ctx, f.Token)
	if err != nil {
		c.replyErr(FrameJoinSession, err)
		return
	}
	sid := f.SessionID
	if sid == "" {
		sid = querySessionID
	}
	sess, ok := s.dir.Get(sid)
	if !ok {
		c.replyErr(FrameJoinSession, session.ErrSessionNotFound)
		return
	}
	res, err := sess.Join(ctx, coordinator.JoinParams{
		PlayerID:    player.ID,
		PlayerName:  player.Name,
		CharacterID: f.CharacterID,
		InviteCode:  f.InviteCode,
		ConnID:      c.connID,
	})
	if err != nil {
		c.replyErr(FrameJoinSession, err)
		return
	}
	s.attach(c, sess, sid, player.ID, res.State, nil, res.Events, res.Cancel)
}

func (s *Server) handleResume(c *client, f ResumeFrame, querySessionID string) {
	if c.sess != nil {
		c.sendError(FrameResumeSession, "already_in_session")
		return
	}
	ctx, cancel := opContext()
	defer cancel()

	player, err := s.ids.Authenticate(ctx, f.Token)
	if err != nil {
		c.replyErr(FrameResumeSession, err)
		return
	}
	sid := f.SessionID
	if sid == "" {
		sid = querySessionID
	}
	sess, ok := s.dir.Get(sid)
	if !ok {
		c.replyErr(FrameResumeSession, session.ErrSessionNotFound)
		return
	}
	res, err := sess.Resume(ctx, player.ID, c.connID, f.LastKnownSequence)
	if err != nil {
		c.replyErr(FrameResumeSession, err)
		return
	}
	s.attach(c, sess, sid, player.ID, res.State, res.Replay, res.Events, res.Cancel)
}

// attach binds the socket to a joined or resumed session and starts the
// outbound event pump. The snapshot goes first, then the catch-up slice,
// then live events; the coordinator guarantees no gap or overlap between
// the last two.
func (s *Server) attach(c *client, sess *coordinator.Session, sessionID, playerID string,
	state session.State, replay []session.Event, live <-chan session.Event, cancelSub func()) {

	c.sess = sess
	c.sessionID = sessionID
	c.playerID = playerID
	c.cancelSub = cancelSub
	c.pumpDone = make(chan struct{})
	s.reg.Register(c.connID, sessionID, playerID)

	c.trySend(mustJSON(StateFrame{Type: FrameSessionState, State: state}))
	go c.pump(replay, live)
	log.Info().
		Str("session_id", sessionID).
		Str("player_id", playerID).
		Str("conn_id", c.connID).
		Int("replayed", len(replay)).
		Msg("websocket attached")
}

func (c *client) pump(replay []session.Event, live <-chan session.Event) {
	defer close(c.pumpDone)
	for _, ev := range replay {
		if !c.trySend(mustJSON(EventFrame{Type: FrameEvent, Replay: true, Event: ev})) {
			return
		}
	}
	for ev := range live {
		if !c.trySend(mustJSON(EventFrame{Type: FrameEvent, Event: ev})) {
			return
		}
	}
	// Channel closed: either the session is over or this subscriber was
	// dropped for falling behind and must come back through resume.
	if c.sessionOver() {
		c.trySend(mustJSON(ControlFrame{Type: FrameSessionEnded}))
	} else {
		c.trySend(mustJSON(ControlFrame{Type: FrameResyncRequired}))
	}
	_ = c.conn.Close()
}

func (c *client) sessionOver() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.sess.Snapshot(ctx)
	if err != nil {
		return true
	}
	return st.Status == session.StatusEnded
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues a frame without blocking. A client that cannot drain its
// queue loses the connection and comes back through the resume path.
func (c *client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		log.Warn().Str("conn_id", c.connID).Str("session_id", c.sessionID).Msg("send queue full, closing socket")
		_ = c.conn.Close()
		return false
	}
}

func (c *client) sendError(op, code string) {
	c.trySend(mustJSON(ErrorFrame{Type: FrameError, Op: op, Code: code}))
}

func (c *client) replyErr(op string, err error) {
	if err == nil {
		return
	}
	_, code := apierr.Map(err)
	c.sendError(op, code)
}

func (s *Server) teardown(c *client) {
	if c.cancelSub != nil {
		c.cancelSub()
		<-c.pumpDone
	}
	close(c.send)
	_ = c.conn.Close()
	s.reg.MarkDisconnected(c.connID)
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}
