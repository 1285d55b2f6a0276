package broker

import "fmt"

// Kind classifies a broker Error. Session and coordinator callers check
// the kind rather than comparing error values directly, the way the
// teacher's sentinel errors are checked with errors.Is, but with room
// for a cause chain per occurrence.
type Kind int

const (
	// KindSendBrokerMessage means a producer failed to enqueue a message
	// to the coordinator (its inbound queue is closed or full).
	KindSendBrokerMessage Kind = iota
	// KindSendConnectionMessage means the coordinator or a session failed
	// to write to a connection handle.
	KindSendConnectionMessage
	// KindSessionOffline means subscribe/unsubscribe was attempted on a
	// session that has no live connection.
	KindSessionOffline
	// KindPacketIdentifiersExhausted means the next packet identifier in
	// sequence was already in use at reserve time.
	KindPacketIdentifiersExhausted
)

func (k Kind) String() string {
	switch k {
	case KindSendBrokerMessage:
		return "SendBrokerMessage"
	case KindSendConnectionMessage:
		return "SendConnectionMessage"
	case KindSessionOffline:
		return "SessionOffline"
	case KindPacketIdentifiersExhausted:
		return "PacketIdentifiersExhausted"
	default:
		return "Unknown"
	}
}

// Error is the value-typed error returned from the core's public
// operations: a checkable Kind plus an optional cause.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is allows errors.Is(err, broker.ErrSessionOffline) style checks by
// comparing the Kind of any *Error target, such as the sentinels built
// by kindError.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

// kindError constructs a bare Error of the given kind, used as a
// sentinel for errors.Is comparisons (e.g. ErrSessionOffline).
func kindError(k Kind) *Error {
	return &Error{Kind: k}
}

var (
	// ErrSessionOffline is returned by subscribe/unsubscribe on a
	// non-online session.
	ErrSessionOffline = kindError(KindSessionOffline)
	// ErrPacketIdentifiersExhausted is returned by Reserve when the next
	// identifier in sequence is in use, even if others are still free.
	ErrPacketIdentifiersExhausted = kindError(KindPacketIdentifiersExhausted)
)

func wrapSendConnectionMessage(cause error) *Error {
	return &Error{Kind: KindSendConnectionMessage, cause: cause}
}
