// Package mcpserver exposes the session coordinator to LLM game masters over
// the Model Context Protocol. Narration, scene changes and GM dice rolls
// come in here and flow through the same commit path as player operations.
package mcpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/coordinator"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
)

type Server struct {
	store *store.Store
	dir   *coordinator.Directory

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(st *store.Store, dir *coordinator.Directory) *Server {
	mcpSrv := server.NewMCPServer(
		"trpg-session-server",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithResourceRecovery(),
	)
	s := &Server{
		store:      st,
		dir:        dir,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerSessionTools()
	s.registerResources()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"session://{session_id}/state",
			"session_state",
			mcp.WithTemplateDescription("Current state of a live session by id"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			raw := request.Params.URI
			if !strings.HasPrefix(raw, "session://") || !strings.HasSuffix(raw, "/state") {
				return nil, nil
			}
			id := strings.TrimSuffix(strings.TrimPrefix(raw, "session://"), "/state")
			sess, ok := s.dir.Get(id)
			if !ok {
				return nil, session.ErrSessionNotFound
			}
			state, err := sess.Snapshot(ctx)
			if err != nil {
				return nil, err
			}
			return jsonResource(raw, state)
		},
	)
}
