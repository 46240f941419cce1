package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/coordinator"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/transport/apierr"
)

var ssePingInterval = 15 * time.Second

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w io.Writer, id, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

func sessionOver(sess *coordinator.Session) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := sess.Snapshot(ctx)
	if err != nil {
		return true
	}
	return st.Status == session.StatusEnded
}

// WatchSSEHandler streams a session to read-only spectators. Reconnecting
// browsers send Last-Event-ID (the sequence number) and the stream resumes
// exactly after it; a first connect replays the whole log.
func WatchSSEHandler(dir *coordinator.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		sess, ok := dir.Get(sessionID)
		if !ok {
			WriteHTTPError(w, http.StatusNotFound, "session_not_found")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_not_supported")
			return
		}

		fromSeq := int64(0)
		if v := r.Header.Get("Last-Event-ID"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				fromSeq = n
			}
		}

		res, err := sess.Watch(r.Context(), "sse-"+store.NewID(), fromSeq)
		if err != nil {
			status, code := apierr.Map(err)
			WriteHTTPError(w, status, code)
			return
		}
		defer res.Cancel()

		setSSEHeaders(w)
		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("session_id", sessionID).
			Int64("from_seq", fromSeq).
			Msg("sse stream opened")

		if err := writeSSE(w, "", "session_state", res.State); err != nil {
			return
		}
		for _, ev := range res.Replay {
			if err := writeSSE(w, strconv.FormatInt(ev.Sequence, 10), "event", ev); err != nil {
				return
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				log.Info().
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("session_id", sessionID).
					Msg("sse stream closed")
				return
			case ev, open := <-res.Events:
				if !open {
					// A closed stream on a live session means this watcher
					// fell behind and was dropped; it must reconnect with
					// Last-Event-ID to catch up.
					name := "resync_required"
					if sessionOver(sess) {
						name = "session_ended"
					}
					_ = writeSSE(w, "", name, map[string]any{"sessionId": sessionID})
					flusher.Flush()
					return
				}
				if err := writeSSE(w, strconv.FormatInt(ev.Sequence, 10), "event", ev); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if err := writeSSE(w, "", "ping", map[string]any{"ts": time.Now().UnixMilli()}); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
