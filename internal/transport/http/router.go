package httptransport

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/config"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/coordinator"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/identity"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/mcpserver"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/registry"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/ws"
)

func NewRouter(st *store.Store, cfg config.ServerConfig, dir *coordinator.Directory,
	ids *identity.Service, reg *registry.Registry) *chi.Mux {

	wsServer := ws.NewServer(dir, ids, reg)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", HealthHandler(st))

	if cfg.MCPEnabled {
		mcpSrv := mcpserver.New(st, dir)
		r.With(APILogMiddleware()).MethodFunc(http.MethodOptions, "/mcp", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
		})
		r.With(APILogMiddleware()).Method(http.MethodPost, "/mcp", mcpSrv.Handler())
		r.With(APILogMiddleware()).Method(http.MethodGet, "/mcp", mcpSrv.Handler())
		r.With(APILogMiddleware()).Method(http.MethodDelete, "/mcp", mcpSrv.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())

		r.Post("/players/register", RegisterPlayerHandler(ids))

		r.Get("/sessions", SessionsListHandler(dir))
		r.Get("/sessions/{session_id}", SessionGetHandler(dir, st))
		r.Get("/sessions/{session_id}/events", SessionEventsHandler(st))
		r.Get("/sessions/{session_id}/watch", WatchSSEHandler(dir))

		r.Group(func(r chi.Router) {
			r.Use(PlayerAuthMiddleware(ids))
			r.Post("/sessions", SessionsCreateHandler(dir))
			r.Delete("/sessions/{session_id}", SessionEndHandler(dir))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.Get("/sessions", AdminSessionsListHandler(dir, reg))
			r.Delete("/sessions/{session_id}", AdminSessionEndHandler(dir))
		})
	})

	// Realtime player transport; authentication rides in the first frame.
	r.Get("/ws", wsServer.HandleWS)

	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 32)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
