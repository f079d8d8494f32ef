package hub

import "testing"

func TestBroadcastMatchesDepartment(t *testing.T) {
	h := New()
	permits := &Client{ID: "permits", Send: make(chan []byte, 1), Subscription: Subscription{DepartmentID: "dept-1"}}
	licensing := &Client{ID: "licensing", Send: make(chan []byte, 1), Subscription: Subscription{DepartmentID: "dept-2"}}
	all := &Client{ID: "all", Send: make(chan []byte, 1)}
	h.Register(permits)
	h.Register(licensing)
	h.Register(all)

	h.Broadcast([]byte(`{"type":"appointment.created"}`), Subscription{DepartmentID: "dept-1"})

	if len(permits.Send) != 1 {
		t.Fatalf("expected matching subscriber to receive message")
	}
	if len(licensing.Send) != 0 {
		t.Fatalf("expected other department to receive nothing")
	}
	if len(all.Send) != 1 {
		t.Fatalf("expected unscoped subscriber to receive message")
	}
}

func TestBroadcastDropsWhenClientFull(t *testing.T) {
	h := New()
	client := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(client)

	h.Broadcast([]byte("one"), Subscription{})
	h.Broadcast([]byte("two"), Subscription{})

	if len(client.Send) != 1 {
		t.Fatalf("expected full client buffer to stay at 1 message, got %d", len(client.Send))
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	client := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)

	if _, open := <-client.Send; open {
		t.Fatalf("expected send channel closed after unregister")
	}

	// A broadcast after unregister must not reach the closed channel.
	h.Broadcast([]byte("late"), Subscription{})
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","department_id":"dept-1"}`))
	if !ok || msg.DepartmentID != "dept-1" {
		t.Fatalf("expected valid subscribe message, got %+v ok=%v", msg, ok)
	}

	if _, ok := ParseSubscribe([]byte(`{"action":"shout"}`)); ok {
		t.Fatalf("expected unknown action to be rejected")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatalf("expected invalid JSON to be rejected")
	}
}
