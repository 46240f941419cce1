// session-bot is a scripted player used for smoke tests and demos. It
// registers itself if needed, joins (or creates) a session over the
// websocket transport, chats and rolls dice on timers, and logs every event
// the server broadcasts.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/config"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/logging"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/ws"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)

	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load bot config failed")
	}

	token := cfg.Token
	if token == "" {
		token, err = registerPlayer(cfg.ServerURL, cfg.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("register failed")
		}
		log.Info().Msg("registered new bot player")
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID, err = createSession(cfg.ServerURL, token, cfg.Name+"'s table")
		if err != nil {
			log.Fatal().Err(err).Msg("create session failed")
		}
		log.Info().Str("session_id", sessionID).Msg("created session")
	}

	conn, err := dial(cfg.ServerURL, sessionID)
	if err != nil {
		log.Fatal().Err(err).Msg("websocket dial failed")
	}
	defer conn.Close()

	join := ws.JoinFrame{Type: ws.FrameJoinSession, Token: token, SessionID: sessionID, InviteCode: cfg.InviteCode}
	if err := conn.WriteJSON(join); err != nil {
		log.Fatal().Err(err).Msg("join write failed")
	}

	go speak(conn, cfg)
	listen(conn)
}

func registerPlayer(serverURL, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := http.Post(serverURL+"/api/players/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("register status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func createSession(serverURL, token, name string) (string, error) {
	body, _ := json.Marshal(map[string]any{"name": name, "mode": "multiplayer"})
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create session status %d", resp.StatusCode)
	}
	var out struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Session.ID, nil
}

func dial(serverURL, sessionID string) (*websocket.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s/ws?session_id=%s", scheme, u.Host, url.QueryEscape(sessionID))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

var chatLines = []string{
	"I check the door for traps.",
	"Has anyone seen my torch?",
	"I vote we rest here for the night.",
	"The innkeeper is definitely hiding something.",
}

var notations = []string{"d20", "2d6+3", "1d100", "3d8-1"}

func speak(conn *websocket.Conn, cfg config.BotConfig) {
	chat := time.NewTicker(cfg.ChatInterval)
	dice := time.NewTicker(cfg.DiceInterval)
	defer chat.Stop()
	defer dice.Stop()
	i := 0
	for {
		select {
		case <-chat.C:
			f := ws.ChatFrame{Type: ws.FrameChatMessage, Message: chatLines[i%len(chatLines)]}
			if err := conn.WriteJSON(f); err != nil {
				return
			}
			i++
		case <-dice.C:
			f := ws.DiceFrame{Type: ws.FrameDiceRoll, Notation: notations[i%len(notations)], Reason: "bot check"}
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func listen(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Msg("connection closed")
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}
		switch base.Type {
		case ws.FrameSessionState:
			log.Info().RawJSON("frame", msg).Msg("session state")
		case ws.FrameEvent:
			log.Info().RawJSON("frame", msg).Msg("event")
		case ws.FrameError:
			log.Warn().RawJSON("frame", msg).Msg("server error")
		case ws.FrameSessionEnded:
			log.Info().Msg("session ended")
			return
		case ws.FrameResyncRequired:
			log.Warn().Msg("fell behind the event stream, reconnect and resume")
			return
		default:
			if !strings.EqualFold(base.Type, ws.FramePong) {
				log.Debug().RawJSON("frame", msg).Msg("frame")
			}
		}
	}
}
