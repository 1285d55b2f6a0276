package broker

import shortuuid "github.com/lithammer/shortuuid/v4"

// newTestClientID returns a short, readable, collision-resistant
// client id for tests that don't care about a specific value.
func newTestClientID() ClientID {
	return NewClientID(shortuuid.New())
}

// fakeConnection is a connection worker test double: a buffered
// channel standing in for the outbound queue a real connection worker
// would drain and write to the socket, plus the handle a test can pass
// into the broker.
type fakeConnection struct {
	outbound chan Message
}

// newFakeConnection returns a fakeConnection with room for capacity
// messages before a Send blocks (returns a full-queue error, since
// ConnectionHandle.Send never blocks).
func newFakeConnection(capacity int) *fakeConnection {
	return &fakeConnection{outbound: make(chan Message, capacity)}
}

func (c *fakeConnection) handle() ConnectionHandle {
	return NewConnectionHandle(c.outbound)
}

// recv returns the next message sent to this connection, or false if
// none is queued.
func (c *fakeConnection) recv() (Message, bool) {
	select {
	case msg := <-c.outbound:
		return msg, true
	default:
		return Message{}, false
	}
}

func (c *fakeConnection) close() {
	close(c.outbound)
}
