// Package broadcast fans committed session events out to live connections.
// Delivery is in commit order per session; a subscriber that cannot keep up
// is dropped rather than allowed to stall the session.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

// DropFunc is called (outside the router lock) when a subscriber is removed
// for falling behind.
type DropFunc func(sessionID, connID string)

type subscriber struct {
	connID string
	ch     chan session.Event
}

type Router struct {
	mu     sync.Mutex
	subs   map[string]map[string]*subscriber
	onDrop DropFunc
}

func NewRouter(onDrop DropFunc) *Router {
	return &Router{subs: map[string]map[string]*subscriber{}, onDrop: onDrop}
}

// Subscribe registers a connection for a session's events and returns the
// delivery channel plus a cancel func. The channel is closed on cancel, on
// session close, or when the subscriber is dropped for being slow.
func (r *Router) Subscribe(sessionID, connID string, depth int) (<-chan session.Event, func()) {
	sub := &subscriber{connID: connID, ch: make(chan session.Event, depth)}

	r.mu.Lock()
	m := r.subs[sessionID]
	if m == nil {
		m = map[string]*subscriber{}
		r.subs[sessionID] = m
	}
	if old, ok := m[connID]; ok {
		close(old.ch)
	}
	m[connID] = sub
	r.mu.Unlock()

	cancel := func() { r.remove(sessionID, connID, sub, false) }
	return sub.ch, cancel
}

// Publish delivers one event to every subscriber of its session without
// blocking. A full queue drops that subscriber.
func (r *Router) Publish(ev session.Event) {
	var dropped []*subscriber

	r.mu.Lock()
	for _, sub := range r.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(r.subs[ev.SessionID], sub.connID)
		close(sub.ch)
	}
	r.mu.Unlock()

	for _, sub := range dropped {
		log.Warn().
			Str("session_id", ev.SessionID).
			Str("conn_id", sub.connID).
			Int64("seq", ev.Sequence).
			Msg("dropping slow subscriber")
		if r.onDrop != nil {
			r.onDrop(ev.SessionID, sub.connID)
		}
	}
}

// CloseSession closes every subscriber channel for the session; readers see
// end-of-stream.
func (r *Router) CloseSession(sessionID string) {
	r.mu.Lock()
	for _, sub := range r.subs[sessionID] {
		close(sub.ch)
	}
	delete(r.subs, sessionID)
	r.mu.Unlock()
}

// SubscriberCount reports live subscribers for one session.
func (r *Router) SubscriberCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[sessionID])
}

func (r *Router) remove(sessionID, connID string, sub *subscriber, notify bool) {
	r.mu.Lock()
	if cur, ok := r.subs[sessionID][connID]; ok && cur == sub {
		delete(r.subs[sessionID], connID)
		close(sub.ch)
		if len(r.subs[sessionID]) == 0 {
			delete(r.subs, sessionID)
		}
	}
	r.mu.Unlock()

	if notify && r.onDrop != nil {
		r.onDrop(sessionID, connID)
	}
}
