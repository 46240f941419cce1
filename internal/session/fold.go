package session

import (
	"encoding/json"
	"fmt"
)

// ApplyEvent advances state by one committed event. Events must be applied
// in sequence order with no gaps; anything else means the log or its reader
// is corrupt.
func ApplyEvent(s *State, ev Event) error {
	if ev.Sequence != s.Sequence+1 {
		return fmt.Errorf("event sequence %d applied to state at %d", ev.Sequence, s.Sequence)
	}

	switch ev.Type {
	case EventPlayerJoin:
		var p JoinPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode join payload: %w", err)
		}
		player := p.Player
		player.ConnectionState = ConnConnected
		if player.LastActivity.IsZero() {
			player.LastActivity = ev.CommittedAt
		}
		s.Players[player.ID] = player
		s.Status = StatusActive

	case EventPlayerLeave:
		var p LeavePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode leave payload: %w", err)
		}
		delete(s.Players, p.PlayerID)
		if p.NewHostID != "" {
			if next, ok := s.Players[p.NewHostID]; ok {
				next.IsHost = true
				s.Players[p.NewHostID] = next
			}
		}

	case EventChatMessage:
		touchOrigin(s, ev)

	case EventDiceRoll:
		var p DiceRollPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode dice payload: %w", err)
		}
		sum := p.Modifier
		for _, r := range p.Results {
			sum += r
		}
		if sum != p.Total {
			return fmt.Errorf("dice roll %q at sequence %d: stored total %d does not match results", p.Notation, ev.Sequence, p.Total)
		}
		touchOrigin(s, ev)

	case EventSceneChange:
		var p SceneChangePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode scene payload: %w", err)
		}
		scene := p.Scene
		s.CurrentScene = &scene

	case EventGameStateUpdate:
		var p GameStateUpdatePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode game state payload: %w", err)
		}
		s.GameState = append(json.RawMessage(nil), p.GameState...)

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	s.Sequence = ev.Sequence
	return nil
}

func touchOrigin(s *State, ev Event) {
	if ev.OriginPlayerID == "" {
		return
	}
	if p, ok := s.Players[ev.OriginPlayerID]; ok {
		p.LastActivity = ev.CommittedAt
		s.Players[ev.OriginPlayerID] = p
	}
}

// Fold replays a full ordered event history onto a fresh state.
func Fold(base State, events []Event) (State, error) {
	s := base.Clone()
	for _, ev := range events {
		if err := ApplyEvent(&s, ev); err != nil {
			return s, err
		}
	}
	return s, nil
}
