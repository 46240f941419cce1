package eventlog

import (
	"context"
	"errors"
	"testing"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

func TestAppendAssignsDenseSequences(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l, err := Open(ctx, st, "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 1; i <= 5; i++ {
		ev, err := l.Append(ctx, session.EventChatMessage, "p1", session.ChatPayload{Message: "m"})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if ev.Sequence != int64(i) {
			t.Fatalf("Sequence = %d, want %d", ev.Sequence, i)
		}
	}
	if l.Sequence() != 5 {
		t.Fatalf("Sequence() = %d, want 5", l.Sequence())
	}
}

func TestReplayFromSequence(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l, _ := Open(ctx, st, "s1")
	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, session.EventChatMessage, "p1", session.ChatPayload{Message: "m"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := l.Replay(ctx, 3)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Replay(3) returned %d events, want 2", len(events))
	}
	if events[0].Sequence != 3 || events[1].Sequence != 4 {
		t.Fatalf("Replay(3) sequences = %d,%d", events[0].Sequence, events[1].Sequence)
	}

	events, err = l.Replay(ctx, 99)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("Replay past end returned %d events", len(events))
	}
}

func TestWatermarkSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l, _ := Open(ctx, st, "s1")
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, session.EventChatMessage, "p1", session.ChatPayload{Message: "m"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	l.Close()

	reopened, err := Open(ctx, st, "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Sequence() != 3 {
		t.Fatalf("reopened Sequence() = %d, want 3", reopened.Sequence())
	}
	ev, err := reopened.Append(ctx, session.EventChatMessage, "p1", session.ChatPayload{Message: "m"})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if ev.Sequence != 4 {
		t.Fatalf("Sequence after reopen = %d, want 4", ev.Sequence)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	l, _ := Open(ctx, NewMemoryStore(), "s1")
	l.Close()
	if _, err := l.Append(ctx, session.EventChatMessage, "p1", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append after Close = %v, want ErrClosed", err)
	}
}

// lostAckStore commits writes but swallows the acknowledgement for the first
// failures appends, the way a connection reset after commit looks to a client.
type lostAckStore struct {
	*MemoryStore
	failures int
}

func (s *lostAckStore) AppendEvent(ctx context.Context, ev session.Event) error {
	err := s.MemoryStore.AppendEvent(ctx, ev)
	if err == nil && s.failures > 0 {
		s.failures--
		return errors.New("connection reset by peer")
	}
	return err
}

func TestAppendRecoversFromLostAck(t *testing.T) {
	ctx := context.Background()
	st := &lostAckStore{MemoryStore: NewMemoryStore(), failures: 1}
	l, err := Open(ctx, st, "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ev, err := l.Append(ctx, session.EventChatMessage, "p1", session.ChatPayload{Message: "m"})
	if err != nil {
		t.Fatalf("Append with lost ack: %v", err)
	}
	if ev.Sequence != 1 || l.Sequence() != 1 {
		t.Fatalf("Sequence = %d (handle %d), want 1", ev.Sequence, l.Sequence())
	}

	// The handle must not be wedged: later appends keep the log dense.
	ev, err = l.Append(ctx, session.EventChatMessage, "p1", session.ChatPayload{Message: "m"})
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if ev.Sequence != 2 {
		t.Fatalf("Sequence = %d, want 2", ev.Sequence)
	}

	events, err := l.Replay(ctx, 1)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 || events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Fatalf("Replay = %+v, want exactly sequences 1 and 2", events)
	}
}

func TestMemoryStoreRejectsForkedSequence(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	ev := session.Event{SessionID: "s1", Sequence: 1, Type: session.EventChatMessage, Payload: []byte(`{}`)}
	if err := st.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := st.AppendEvent(ctx, ev); err == nil {
		t.Fatal("duplicate sequence accepted")
	}
	ev.Sequence = 5
	if err := st.AppendEvent(ctx, ev); err == nil {
		t.Fatal("gapped sequence accepted")
	}
}

func TestLogsAreIsolatedPerSession(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	a, _ := Open(ctx, st, "a")
	b, _ := Open(ctx, st, "b")
	if _, err := a.Append(ctx, session.EventChatMessage, "p1", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.Sequence() != 0 {
		t.Fatalf("session b sequence = %d, want 0", b.Sequence())
	}
	ev, err := b.Append(ctx, session.EventChatMessage, "p2", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.Sequence != 1 {
		t.Fatalf("session b first sequence = %d, want 1", ev.Sequence)
	}
}
