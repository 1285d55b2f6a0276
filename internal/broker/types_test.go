package broker

import "testing"

func Test_ConnectionHandle_Equal_is_true_for_the_same_identity(t *testing.T) {
	conn := newFakeConnection(1)
	h1 := conn.handle()
	h2 := h1
	if !h1.Equal(h2) {
		t.Fatalf("expected a handle to equal its own copy")
	}
}

func Test_ConnectionHandle_Equal_is_false_across_distinct_connections(t *testing.T) {
	conn1 := newFakeConnection(1)
	conn2 := newFakeConnection(1)
	if conn1.handle().Equal(conn2.handle()) {
		t.Fatalf("expected handles over distinct connections to be unequal, even with the same channel type")
	}
}

func Test_ConnectionHandle_Send_delivers_to_the_outbound_channel(t *testing.T) {
	conn := newFakeConnection(1)
	handle := conn.handle()
	msg := NewMessage(newTestClientID(), Event{Kind: EventPingResp})

	if err := handle.Send(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := conn.recv()
	if !ok {
		t.Fatalf("expected a message to be queued")
	}
	if got.Event.Kind != EventPingResp {
		t.Fatalf("expected PingResp, got %s", got.Event.Kind)
	}
}

func Test_ConnectionHandle_Send_fails_when_the_queue_is_full(t *testing.T) {
	conn := newFakeConnection(1)
	handle := conn.handle()
	msg := NewMessage(newTestClientID(), Event{Kind: EventPingResp})

	if err := handle.Send(msg); err != nil {
		t.Fatalf("unexpected error on first send: %v", err)
	}
	err := handle.Send(msg)
	if err == nil {
		t.Fatalf("expected an error once the queue is full")
	}
	if brokerErr, ok := err.(*Error); !ok || brokerErr.Kind != KindSendConnectionMessage {
		t.Fatalf("expected a SendConnectionMessage error, got %v", err)
	}
}

func Test_ConnectionHandle_Send_fails_after_the_connection_closes(t *testing.T) {
	conn := newFakeConnection(1)
	handle := conn.handle()
	conn.close()

	err := handle.Send(NewMessage(newTestClientID(), Event{Kind: EventPingResp}))
	if err == nil {
		t.Fatalf("expected an error sending on a closed connection")
	}
}
