package httptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/broadcast"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/config"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/coordinator"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/eventlog"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/registry"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
)

func testSessionCfg() config.SessionConfig {
	return config.SessionConfig{
		MaxPlayers:         6,
		MaxPlayersHard:     12,
		PlayerReclaimGrace: time.Second,
		SessionGrace:       5 * time.Second,
		JanitorInterval:    time.Minute,
		SendQueueDepth:     32,
	}
}

type fakeRowSource struct {
	rows map[string]store.SessionRow
}

func (f *fakeRowSource) GetSession(_ context.Context, id string) (store.SessionRow, error) {
	row, ok := f.rows[id]
	if !ok {
		return store.SessionRow{}, store.ErrNotFound
	}
	return row, nil
}

func newTestRouter(t *testing.T) (*chi.Mux, *coordinator.Directory, *fakeRowSource) {
	t.Helper()
	mem := eventlog.NewMemoryStore()
	dir := coordinator.NewDirectory(context.Background(), testSessionCfg(), mem, nil, nil, broadcast.NewRouter(nil))
	rows := &fakeRowSource{rows: map[string]store.SessionRow{}}
	reg := registry.New(nil)

	r := chi.NewRouter()
	r.Post("/api/sessions", SessionsCreateHandler(dir))
	r.Get("/api/sessions", SessionsListHandler(dir))
	r.Get("/api/sessions/{session_id}", SessionGetHandler(dir, rows))
	r.Get("/api/sessions/{session_id}/events", SessionEventsHandler(mem))
	r.Get("/api/sessions/{session_id}/watch", WatchSSEHandler(dir))
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware("test-admin-key"))
		r.Get("/sessions", AdminSessionsListHandler(dir, reg))
		r.Delete("/sessions/{session_id}", AdminSessionEndHandler(dir))
	})
	return r, dir, rows
}

func createTestSession(t *testing.T, r http.Handler, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", rec.Code, rec.Body)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSessionsCreateAndGet(t *testing.T) {
	r, _, _ := newTestRouter(t)
	out := createTestSession(t, r, `{"campaignId":"c1","name":"Friday night"}`)
	sess := out["session"].(map[string]any)
	id := sess["id"].(string)
	if id == "" {
		t.Fatal("no session id in response")
	}
	if sess["status"] != "forming" {
		t.Fatalf("status = %v, want forming", sess["status"])
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/no-such-id", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d, want 404", rec.Code)
	}
}

func TestSessionsCreateValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"campaignId":"c1"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless create status = %d, want 400", rec.Code)
	}
}

func TestSessionsListHidesPrivate(t *testing.T) {
	r, _, _ := newTestRouter(t)
	createTestSession(t, r, `{"name":"public table"}`)
	out := createTestSession(t, r, `{"name":"secret table","isPrivate":true}`)
	if out["inviteCode"] == nil || out["inviteCode"] == "" {
		t.Fatal("private session response missing invite code")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var list struct {
		Sessions []session.State `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Sessions) != 1 {
		t.Fatalf("listed %d sessions, want 1 (private hidden)", len(list.Sessions))
	}
	if list.Sessions[0].Name != "public table" {
		t.Fatalf("listed session %q", list.Sessions[0].Name)
	}
}

func TestAdminSessionsRequireKeyAndSeePrivate(t *testing.T) {
	r, _, _ := newTestRouter(t)
	createTestSession(t, r, `{"name":"public table"}`)
	createTestSession(t, r, `{"name":"secret table","isPrivate":true}`)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/sessions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("keyless admin list status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/sessions", nil)
	req.Header.Set("X-Admin-Key", "test-admin-key")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list status = %d", rec.Code)
	}
	var list struct {
		Sessions []struct {
			session.State
			LiveConnections *int `json:"liveConnections"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Sessions) != 2 {
		t.Fatalf("admin listed %d sessions, want 2 including private", len(list.Sessions))
	}
	for _, s := range list.Sessions {
		if s.LiveConnections == nil {
			t.Fatalf("session %s missing liveConnections", s.ID)
		}
		if *s.LiveConnections != 0 {
			t.Fatalf("session %s liveConnections = %d, want 0", s.ID, *s.LiveConnections)
		}
	}
}

func TestSessionGetServesArchivedRow(t *testing.T) {
	r, _, rows := newTestRouter(t)
	ended := time.Date(2026, 8, 30, 21, 0, 0, 0, time.UTC)
	rows.rows["old1"] = store.SessionRow{
		ID:         "old1",
		CampaignID: "c1",
		Name:       "finished table",
		Mode:       "multiplayer",
		Status:     "ended",
		InviteCode: "SECRET",
		MaxPlayers: 6,
		CreatedAt:  ended.Add(-2 * time.Hour),
		EndedAt:    &ended,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/old1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("archived get status = %d, body %s", rec.Code, rec.Body)
	}
	var out struct {
		Session  store.SessionRow `json:"session"`
		Archived bool             `json:"archived"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Archived || out.Session.Name != "finished table" || out.Session.Status != "ended" {
		t.Fatalf("archived response = %+v", out)
	}
	if strings.Contains(rec.Body.String(), "SECRET") {
		t.Fatal("archived response leaks the invite code")
	}
}

func TestAdminForceEnd(t *testing.T) {
	r, dir, _ := newTestRouter(t)
	out := createTestSession(t, r, `{"name":"doomed table"}`)
	id := out["session"].(map[string]any)["id"].(string)

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/sessions/"+id, nil)
	req.Header.Set("X-Admin-Key", "test-admin-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("force end status = %d, body %s", rec.Code, rec.Body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := dir.Get(id); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ended session still in directory")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionEventsReplay(t *testing.T) {
	r, dir, _ := newTestRouter(t)
	out := createTestSession(t, r, `{"name":"history"}`)
	id := out["session"].(map[string]any)["id"].(string)

	sess, _ := dir.Get(id)
	ctx := context.Background()
	if _, err := sess.Join(ctx, coordinator.JoinParams{PlayerID: "alice", PlayerName: "alice", ConnID: "ca"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := sess.SendChat(ctx, "alice", "one", ""); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if _, err := sess.SendChat(ctx, "alice", "two", ""); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/events?from_seq=2", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var resp struct {
		Events []session.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(resp.Events) != 2 || resp.Events[0].Sequence != 2 || resp.Events[1].Sequence != 3 {
		t.Fatalf("events = %+v, want sequences 2 and 3", resp.Events)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/events?from_seq=zero", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from_seq status = %d, want 400", rec.Code)
	}
}

func TestWatchSSEStreamsSnapshotAndHistory(t *testing.T) {
	r, dir, _ := newTestRouter(t)
	out := createTestSession(t, r, `{"name":"spectated"}`)
	id := out["session"].(map[string]any)["id"].(string)

	sess, _ := dir.Get(id)
	ctx := context.Background()
	if _, err := sess.Join(ctx, coordinator.JoinParams{PlayerID: "alice", PlayerName: "alice", ConnID: "ca"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := sess.SendChat(ctx, "alice", "for the watchers", ""); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	ts := httptest.NewServer(r)
	defer ts.Close()

	reqCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/watch", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("watch request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var sawState bool
	var eventIDs []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: session_state" {
			sawState = true
		}
		if strings.HasPrefix(line, "id: ") {
			eventIDs = append(eventIDs, strings.TrimPrefix(line, "id: "))
		}
		if len(eventIDs) == 2 {
			break
		}
	}
	if !sawState {
		t.Fatal("stream never sent session_state")
	}
	if len(eventIDs) != 2 || eventIDs[0] != "1" || eventIDs[1] != "2" {
		t.Fatalf("replayed event ids = %v, want [1 2]", eventIDs)
	}
}

func TestWatchSSEAnnouncesSessionEnd(t *testing.T) {
	r, dir, _ := newTestRouter(t)
	out := createTestSession(t, r, `{"name":"short-lived"}`)
	id := out["session"].(map[string]any)["id"].(string)

	sess, _ := dir.Get(id)
	ctx := context.Background()
	if _, err := sess.Join(ctx, coordinator.JoinParams{PlayerID: "alice", PlayerName: "alice", ConnID: "ca"}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	ts := httptest.NewServer(r)
	defer ts.Close()

	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/watch", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("watch request: %v", err)
	}
	defer resp.Body.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "event: resync_required" {
				t.Error("live-session end announced as resync_required")
				return
			}
			if line == "event: session_ended" {
				return
			}
		}
		t.Error("stream closed without session_ended")
	}()

	// Let the stream get past the snapshot before ending the session.
	time.Sleep(100 * time.Millisecond)
	if err := sess.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}
	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("never saw session_ended on the stream")
	}
}

func TestSessionOverSelectsStreamCloseSignal(t *testing.T) {
	r, dir, _ := newTestRouter(t)
	out := createTestSession(t, r, `{"name":"signal check"}`)
	id := out["session"].(map[string]any)["id"].(string)

	sess, _ := dir.Get(id)
	if sessionOver(sess) {
		t.Fatal("live session reported over")
	}
	if err := sess.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !sessionOver(sess) {
		if time.Now().After(deadline) {
			t.Fatal("ended session still reported live")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
