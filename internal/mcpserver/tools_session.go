package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

func (s *Server) registerSessionTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_active_sessions",
			mcp.WithDescription("List live sessions with player counts and status"),
		),
		s.handleListActiveSessions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_session_state",
			mcp.WithDescription("Get the full current state of one session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		),
		s.handleGetSessionState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"send_narration",
			mcp.WithDescription("Send a game-master narration message into a session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
			mcp.WithString("message", mcp.Required(), mcp.Description("Narration text")),
			mcp.WithString("speaker", mcp.Description("Display name, default GM")),
		),
		s.handleSendNarration,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"change_scene",
			mcp.WithDescription("Transition a session to a new scene"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Scene name")),
			mcp.WithString("description", mcp.Description("Scene description")),
			mcp.WithString("image_url", mcp.Description("Scene illustration URL")),
		),
		s.handleChangeScene,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"roll_dice",
			mcp.WithDescription("Roll dice as the game master, e.g. for hidden checks"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
			mcp.WithString("notation", mcp.Required(), mcp.Description("Dice notation such as 2d6+3")),
			mcp.WithString("reason", mcp.Description("What the roll is for")),
		),
		s.handleRollDice,
	)
}

func (s *Server) handleListActiveSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states := s.dir.List(ctx)
	type item struct {
		ID          string `json:"id"`
		CampaignID  string `json:"campaignId"`
		Name        string `json:"name"`
		Status      string `json:"status"`
		PlayerCount int    `json:"playerCount"`
		Sequence    int64  `json:"sequence"`
	}
	out := make([]item, 0, len(states))
	for _, st := range states {
		out = append(out, item{
			ID:          st.ID,
			CampaignID:  st.CampaignID,
			Name:        st.Name,
			Status:      string(st.Status),
			PlayerCount: len(st.Players),
			Sequence:    st.Sequence,
		})
	}
	return toolResult(map[string]any{"sessions": out}), nil
}

func (s *Server) handleGetSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := s.dir.Get(request.GetString("session_id", ""))
	if !ok {
		return mapDomainError(session.ErrSessionNotFound), nil
	}
	state, err := sess.Snapshot(ctx)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"session": state}), nil
}

func (s *Server) handleSendNarration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := s.dir.Get(request.GetString("session_id", ""))
	if !ok {
		return mapDomainError(session.ErrSessionNotFound), nil
	}
	speaker := request.GetString("speaker", "GM")
	ev, err := sess.Narrate(ctx, speaker, request.GetString("message", ""))
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"sequence": ev.Sequence}), nil
}

func (s *Server) handleChangeScene(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := s.dir.Get(request.GetString("session_id", ""))
	if !ok {
		return mapDomainError(session.ErrSessionNotFound), nil
	}
	scene := session.Scene{
		Name:        request.GetString("name", ""),
		Description: request.GetString("description", ""),
		ImageURL:    request.GetString("image_url", ""),
	}
	if scene.Name == "" {
		return toolError("invalid_request", "scene name required"), nil
	}
	ev, err := sess.ChangeScene(ctx, "", scene)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"sequence": ev.Sequence}), nil
}

func (s *Server) handleRollDice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := s.dir.Get(request.GetString("session_id", ""))
	if !ok {
		return mapDomainError(session.ErrSessionNotFound), nil
	}
	ev, err := sess.RollDice(ctx, "", request.GetString("notation", ""), request.GetString("reason", ""))
	if err != nil {
		return mapDomainError(err), nil
	}
	var payload session.DiceRollPayload
	_ = json.Unmarshal(ev.Payload, &payload)
	return toolResult(map[string]any{
		"sequence": ev.Sequence,
		"notation": payload.Notation,
		"results":  payload.Results,
		"modifier": payload.Modifier,
		"total":    payload.Total,
	}), nil
}
