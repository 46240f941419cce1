package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

// MemoryStore keeps event history in process memory. Single-player sessions
// use it so they never touch Postgres; tests use it everywhere.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]session.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: map[string][]session.Event{}}
}

func (m *MemoryStore) AppendEvent(_ context.Context, ev session.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.logs[ev.SessionID]
	if want := int64(len(events)) + 1; ev.Sequence != want {
		return fmt.Errorf("append sequence %d, log at %d", ev.Sequence, want-1)
	}
	m.logs[ev.SessionID] = append(events, ev)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, sessionID string, fromSeq int64) ([]session.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.logs[sessionID]
	if fromSeq < 1 {
		fromSeq = 1
	}
	if fromSeq > int64(len(events)) {
		return nil, nil
	}
	out := make([]session.Event, len(events[fromSeq-1:]))
	copy(out, events[fromSeq-1:])
	return out, nil
}

func (m *MemoryStore) LastSequence(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.logs[sessionID])), nil
}

// DropSession releases the history of an ended session.
func (m *MemoryStore) DropSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, sessionID)
}
