package registry

import (
	"errors"
	"testing"
)

type fakeConn struct {
	sent   []any
	closed bool
	fail   bool
}

func (f *fakeConn) WriteJSON(v any) error {
	if f.fail {
		return errors.New("write fail")
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestSendToOfflineDriverReturnsFalse(t *testing.T) {
	r := New()
	if r.Send(42, "hello") {
		t.Fatal("send to unregistered driver must return false")
	}
}

func TestRegisterSendUnregister(t *testing.T) {
	r := New()
	c := &fakeConn{}
	r.Register(1, "conn-a", c)
	if !r.Send(1, "offer") {
		t.Fatal("expected delivery to registered driver")
	}
	if len(c.sent) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(c.sent))
	}
	r.Unregister("conn-a")
	if r.Send(1, "offer") {
		t.Fatal("send after unregister must return false")
	}
	r.Unregister("conn-a") // idempotent
}

func TestReconnectClosesSupersededSession(t *testing.T) {
	r := New()
	old := &fakeConn{}
	r.Register(1, "conn-a", old)
	fresh := &fakeConn{}
	r.Register(1, "conn-b", fresh)

	if !old.closed {
		t.Fatal("superseded connection must be closed")
	}
	if !r.Send(1, "x") || len(fresh.sent) != 1 {
		t.Fatal("delivery must use the new session")
	}
	// stale cleanup from the old connection must not evict the new session
	r.Unregister("conn-a")
	if !r.Send(1, "y") {
		t.Fatal("unregistering the old conn id must not drop the new session")
	}
}

func TestBroadcastBestEffort(t *testing.T) {
	r := New()
	ok := &fakeConn{}
	bad := &fakeConn{fail: true}
	r.Register(1, "a", ok)
	r.Register(2, "b", bad)
	r.Broadcast("ping")
	if len(ok.sent) != 1 {
		t.Fatal("healthy session must receive broadcast despite sibling failure")
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Count())
	}
}
