package registry

import "testing"

func TestRegisterResolveDisconnect(t *testing.T) {
	var notified []Conn
	r := New(func(c Conn) { notified = append(notified, c) })

	r.Register("conn1", "s1", "alice")
	r.Register("conn2", "s1", "bob")
	r.Register("conn3", "s2", "carol")

	c, ok := r.Resolve("conn1")
	if !ok || c.PlayerID != "alice" || c.SessionID != "s1" {
		t.Fatalf("Resolve(conn1) = %+v, %v", c, ok)
	}
	if n := r.LiveConnections("s1"); n != 2 {
		t.Fatalf("LiveConnections(s1) = %d, want 2", n)
	}

	c, ok = r.MarkDisconnected("conn1")
	if !ok || c.PlayerID != "alice" {
		t.Fatalf("MarkDisconnected(conn1) = %+v, %v", c, ok)
	}
	if len(notified) != 1 || notified[0].ID != "conn1" {
		t.Fatalf("notified = %+v", notified)
	}
	if _, ok := r.Resolve("conn1"); ok {
		t.Fatal("conn1 still resolvable after disconnect")
	}
	if n := r.LiveConnections("s1"); n != 1 {
		t.Fatalf("LiveConnections(s1) = %d, want 1", n)
	}

	// Second disconnect of the same conn is a no-op.
	if _, ok := r.MarkDisconnected("conn1"); ok {
		t.Fatal("second MarkDisconnected reported a binding")
	}
	if len(notified) != 1 {
		t.Fatalf("duplicate disconnect notified handler, count = %d", len(notified))
	}
}

func TestRegisterOverwritesBinding(t *testing.T) {
	r := New(nil)
	r.Register("conn1", "s1", "alice")
	r.Register("conn1", "s2", "alice")
	c, ok := r.Resolve("conn1")
	if !ok || c.SessionID != "s2" {
		t.Fatalf("Resolve after rebind = %+v, %v", c, ok)
	}
}
