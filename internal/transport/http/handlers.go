package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/coordinator"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/eventlog"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/identity"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/registry"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/transport/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func HealthHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			WriteHTTPError(w, http.StatusServiceUnavailable, "db_unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func RegisterPlayerHandler(ids *identity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		player, token, err := ids.Register(r.Context(), req.Name)
		if err != nil {
			status, code := apierr.Map(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"player": map[string]any{"id": player.ID, "name": player.Name},
			"token":  token,
		})
	}
}

func SessionsCreateHandler(dir *coordinator.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CampaignID string `json:"campaignId"`
			Name       string `json:"name"`
			Mode       string `json:"mode"`
			MaxPlayers int    `json:"maxPlayers"`
			IsPrivate  bool   `json:"isPrivate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		_, state, inviteCode, err := dir.Create(r.Context(), coordinator.CreateParams{
			CampaignID: req.CampaignID,
			Name:       req.Name,
			Mode:       session.Mode(req.Mode),
			MaxPlayers: req.MaxPlayers,
			Private:    req.IsPrivate,
		})
		if err != nil {
			status, code := apierr.Map(err)
			WriteHTTPError(w, status, code)
			return
		}
		resp := map[string]any{"session": state}
		if inviteCode != "" {
			resp["inviteCode"] = inviteCode
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// SessionsListHandler lists joinable sessions. Private sessions stay out of
// the public directory; they are reachable by id plus invite code.
func SessionsListHandler(dir *coordinator.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := dir.List(r.Context())
		out := make([]session.State, 0, len(all))
		for _, st := range all {
			if st.IsPrivate {
				continue
			}
			out = append(out, st)
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
	}
}

// SessionRowSource serves the persisted record of sessions that no longer
// have a live coordinator.
type SessionRowSource interface {
	GetSession(ctx context.Context, id string) (store.SessionRow, error)
}

// SessionGetHandler returns the live snapshot, or the archived row for a
// session that already ended.
func SessionGetHandler(dir *coordinator.Directory, rows SessionRowSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session_id")
		if sess, ok := dir.Get(id); ok {
			state, err := sess.Snapshot(r.Context())
			if err != nil {
				status, code := apierr.Map(err)
				WriteHTTPError(w, status, code)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"session": state})
			return
		}
		if rows != nil {
			row, err := rows.GetSession(r.Context(), id)
			if err == nil {
				writeJSON(w, http.StatusOK, map[string]any{"session": row, "archived": true})
				return
			}
			if !errors.Is(err, store.ErrNotFound) {
				status, code := apierr.Map(err)
				WriteHTTPError(w, status, code)
				return
			}
		}
		WriteHTTPError(w, http.StatusNotFound, "session_not_found")
	}
}

// SessionEventsHandler replays committed history straight from the durable
// log. It works for live and ended sessions alike, which makes it the
// campaign-recap surface as well as a debugging tool.
func SessionEventsHandler(events eventlog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		fromSeq := int64(1)
		if v := r.URL.Query().Get("from_seq"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 1 {
				WriteHTTPError(w, http.StatusBadRequest, "invalid_from_seq")
				return
			}
			fromSeq = n
		}
		list, err := events.ListEvents(r.Context(), sessionID, fromSeq)
		if err != nil {
			status, code := apierr.Map(err)
			WriteHTTPError(w, status, code)
			return
		}
		if list == nil {
			list = []session.Event{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": list})
	}
}

// AdminSessionsListHandler lists every live session, private ones included,
// with the number of sockets currently attached to each.
func AdminSessionsListHandler(dir *coordinator.Directory, reg *registry.Registry) http.HandlerFunc {
	type item struct {
		session.State
		LiveConnections int `json:"liveConnections"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		states := dir.List(r.Context())
		out := make([]item, 0, len(states))
		for _, st := range states {
			out = append(out, item{State: st, LiveConnections: reg.LiveConnections(st.ID)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
	}
}

// AdminSessionEndHandler force-ends a session regardless of who hosts it.
func AdminSessionEndHandler(dir *coordinator.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, found := dir.Get(chi.URLParam(r, "session_id"))
		if !found {
			WriteHTTPError(w, http.StatusNotFound, "session_not_found")
			return
		}
		if err := sess.End(r.Context()); err != nil {
			status, code := apierr.Map(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// SessionEndHandler shuts a session down. Only the current host may do it.
func SessionEndHandler(dir *coordinator.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		player, ok := PlayerFromContext(r.Context())
		if !ok {
			WriteHTTPError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		sess, found := dir.Get(chi.URLParam(r, "session_id"))
		if !found {
			WriteHTTPError(w, http.StatusNotFound, "session_not_found")
			return
		}
		state, err := sess.Snapshot(r.Context())
		if err != nil {
			status, code := apierr.Map(err)
			WriteHTTPError(w, status, code)
			return
		}
		member, isMember := state.Players[player.ID]
		if !isMember {
			WriteHTTPError(w, http.StatusForbidden, "not_a_member")
			return
		}
		if !member.IsHost {
			WriteHTTPError(w, http.StatusForbidden, "not_host")
			return
		}
		if err := sess.End(r.Context()); err != nil {
			status, code := apierr.Map(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
