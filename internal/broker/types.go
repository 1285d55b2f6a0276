// Package broker implements the core of an MQTT 3.1.1 broker: the
// session manager and event-loop coordinator that arbitrate client
// identity and own the subscription table. Framing, the TCP accept
// loop, and per-connection read/write tasks are external collaborators;
// this package consumes already-parsed packet values.
package broker

import (
	"fmt"

	"github.com/google/uuid"
)

// ClientID is the client-supplied identity carried in a CONNECT packet.
// It is cheap to copy and safe to use as a map key.
type ClientID struct {
	id string
}

// NewClientID wraps a raw client identifier string.
func NewClientID(id string) ClientID {
	return ClientID{id: id}
}

// String returns the raw client id.
func (c ClientID) String() string {
	return c.id
}

// ConnectionHandle is an opaque send endpoint into a connection worker's
// outbound queue, plus a unique identity used to distinguish physical
// connections. Two handles are equal iff they share the same
// connection id; cloning a handle preserves that id.
type ConnectionHandle struct {
	id       uuid.UUID
	outbound chan<- Message
}

// NewConnectionHandle constructs a handle with a fresh connection
// identity over the given outbound channel. Calling this twice for the
// same channel produces two distinct handles, by design: the identity
// models the physical connection, not the channel.
func NewConnectionHandle(outbound chan<- Message) ConnectionHandle {
	return ConnectionHandle{id: uuid.New(), outbound: outbound}
}

// Equal reports whether two handles refer to the same physical
// connection.
func (h ConnectionHandle) Equal(other ConnectionHandle) bool {
	return h.id == other.id
}

// ID returns the handle's unique connection identifier.
func (h ConnectionHandle) ID() uuid.UUID {
	return h.id
}

// Send enqueues a message for the owning connection worker. It never
// blocks past the channel's capacity; a full or closed channel yields a
// SendConnectionMessage error.
func (h ConnectionHandle) Send(msg Message) (err error) {
	if h.outbound == nil {
		return &Error{Kind: KindSendConnectionMessage, cause: fmt.Errorf("handle has no outbound channel")}
	}
	defer func() {
		// A send on a channel whose owning worker already closed its
		// receive end panics; treat that the same as a full queue.
		if r := recover(); r != nil {
			err = &Error{Kind: KindSendConnectionMessage, cause: fmt.Errorf("connection %s outbound queue closed: %v", h.id, r)}
		}
	}()
	select {
	case h.outbound <- msg:
		return nil
	default:
		return &Error{Kind: KindSendConnectionMessage, cause: fmt.Errorf("connection %s outbound queue full", h.id)}
	}
}

// EventKind tags the closed set of events the coordinator and sessions
// exchange with connection workers.
type EventKind int

const (
	// EventConnReq is an inbound CONNECT, carrying the parsed packet and
	// the handle of the connection that sent it.
	EventConnReq EventKind = iota
	// EventConnAck is an outbound CONNACK.
	EventConnAck
	// EventDisconnect is a graceful disconnect, inbound or outbound.
	EventDisconnect
	// EventDropConnection is an abortive close, inbound or outbound.
	EventDropConnection
	// EventCloseSession unconditionally removes session state; the
	// connection is already gone.
	EventCloseSession
	// EventPingReq is an inbound PINGREQ.
	EventPingReq
	// EventPingResp is an outbound PINGRESP.
	EventPingResp
	// EventSubscribe is an inbound SUBSCRIBE.
	EventSubscribe
	// EventSubAck is an outbound SUBACK.
	EventSubAck
	// EventUnsubscribe is an inbound UNSUBSCRIBE.
	EventUnsubscribe
	// EventUnsubAck is an outbound UNSUBACK.
	EventUnsubAck
	// EventUnknown is an event the coordinator only expects to observe
	// from tests or misbehaving producers.
	EventUnknown
)

func (k EventKind) String() string {
	switch k {
	case EventConnReq:
		return "ConnReq"
	case EventConnAck:
		return "ConnAck"
	case EventDisconnect:
		return "Disconnect"
	case EventDropConnection:
		return "DropConnection"
	case EventCloseSession:
		return "CloseSession"
	case EventPingReq:
		return "PingReq"
	case EventPingResp:
		return "PingResp"
	case EventSubscribe:
		return "Subscribe"
	case EventSubAck:
		return "SubAck"
	case EventUnsubscribe:
		return "Unsubscribe"
	case EventUnsubAck:
		return "UnsubAck"
	default:
		return "Unknown"
	}
}

// Event is a tagged union of the packet-derived and connection-lifecycle
// events exchanged between connection workers and the coordinator. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// ConnReq fields.
	Connect *ConnectPacket
	Handle  ConnectionHandle

	// ConnAck fields.
	ConnAck *ConnAck

	// Subscribe / SubAck fields.
	Subscribe *SubscribePacket
	SubAck    *SubAck

	// Unsubscribe / UnsubAck fields.
	Unsubscribe *UnsubscribePacket
	UnsubAck    *UnsubAck
}

// Message is the unit exchanged on every channel: a client id plus the
// event destined for, or originating from, that client's session. The
// client id travels out-of-band from the event so the coordinator can
// key the session map without inspecting the payload.
type Message struct {
	ClientID ClientID
	Event    Event
}

// NewMessage constructs a Message.
func NewMessage(id ClientID, event Event) Message {
	return Message{ClientID: id, Event: event}
}
