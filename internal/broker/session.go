package broker

import (
	"time"

	"github.com/sirupsen/logrus"
)

// SessionKind is the closed set of states a Session can be in. The
// coordinator dispatches on Kind directly rather than through an
// interface; there are exactly four states and no more are expected,
// so a type switch would buy nothing over a tag.
type SessionKind int

const (
	// SessionTransient is a connected, clean-session client: no state
	// survives its disconnect.
	SessionTransient SessionKind = iota
	// SessionPersistent is a connected client whose subscriptions and
	// packet identifiers survive disconnects until it asks otherwise.
	SessionPersistent
	// SessionDisconnecting is the brief window between a connection
	// being told to drop and its DropConnection event arriving back.
	// It carries no SessionState: any subscriptions already moved to
	// an Offline session, or were discarded, before this state exists.
	SessionDisconnecting
	// SessionOffline is a persistent client with no live connection.
	// Its state is retained so a future reconnect can resume it.
	SessionOffline
)

func (k SessionKind) String() string {
	switch k {
	case SessionTransient:
		return "Transient"
	case SessionPersistent:
		return "Persistent"
	case SessionDisconnecting:
		return "Disconnecting"
	case SessionOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// SessionState is the state a persistent session keeps regardless of
// whether it currently has a connection: its subscriptions, its
// in-flight packet identifier allocator, and enough bookkeeping to
// judge keep-alive expiry once reconnected.
type SessionState struct {
	ClientID      ClientID
	KeepAlive     time.Duration
	LastActive    time.Time
	Subscriptions map[TopicFilter]Subscription
	PacketIDs     *PacketIdentifiers
}

// NewSessionState returns an empty session state for a freshly
// connected client.
func NewSessionState(id ClientID, keepAlive time.Duration) *SessionState {
	return &SessionState{
		ClientID:      id,
		KeepAlive:     keepAlive,
		LastActive:    time.Time{},
		Subscriptions: make(map[TopicFilter]Subscription),
		PacketIDs:     NewPacketIdentifiers(),
	}
}

// Session is a tagged union over the four session states. Only the
// fields relevant to Kind are populated: Disconnecting carries just a
// client id and handle, the other three carry a handle (Transient,
// Persistent) and/or a *SessionState (Persistent, Offline). ClientID
// is always populated; it is what the coordinator keys its session
// map with, and Send needs it regardless of which other fields apply.
type Session struct {
	Kind     SessionKind
	ClientID ClientID
	State    *SessionState
	Handle   ConnectionHandle
}

// NewTransientSession starts a clean-session client: it has a live
// connection and no SessionState, so nothing survives a disconnect.
func NewTransientSession(id ClientID, handle ConnectionHandle) *Session {
	return &Session{Kind: SessionTransient, ClientID: id, Handle: handle}
}

// NewPersistentSession starts a client whose session survives
// disconnects.
func NewPersistentSession(state *SessionState, handle ConnectionHandle) *Session {
	return &Session{Kind: SessionPersistent, ClientID: state.ClientID, State: state, Handle: handle}
}

// NewOfflineSession wraps retained state for a persistent client with
// no live connection.
func NewOfflineSession(state *SessionState) *Session {
	return &Session{Kind: SessionOffline, ClientID: state.ClientID, State: state}
}

// NewDisconnectingSession marks a session as waiting for its
// connection's DropConnection acknowledgment.
func NewDisconnectingSession(id ClientID, handle ConnectionHandle) *Session {
	return &Session{Kind: SessionDisconnecting, ClientID: id, Handle: handle}
}

// Subscribe applies a SUBSCRIBE to the session, returning the SUBACK
// to send back. Subscribing to a filter that's already present
// replaces the stored QoS; it is not an error to resubscribe.
// Transient sessions accept subscriptions too, they just don't
// outlive the connection. Offline and Disconnecting sessions have no
// connection to subscribe on behalf of and return ErrSessionOffline.
func (s *Session) Subscribe(pkt *SubscribePacket) (*SubAck, error) {
	switch s.Kind {
	case SessionOffline, SessionDisconnecting:
		return nil, ErrSessionOffline
	}

	state := s.ensureState()
	results := make([]SubAckQoS, len(pkt.SubscribeTo))
	for i, want := range pkt.SubscribeTo {
		filter, err := parseTopicFilter(string(want.Filter))
		if err != nil {
			logrus.WithField("client_id", s.ClientID.String()).WithField("filter", string(want.Filter)).WithError(err).Warn("rejecting invalid topic filter")
			results[i] = SubAckQoS{Success: false}
			continue
		}
		state.Subscriptions[filter] = Subscription{Filter: filter, QoS: want.QoS}
		results[i] = SubAckQoS{QoS: want.QoS, Success: true}
	}
	return &SubAck{PacketID: pkt.PacketID, Results: results}, nil
}

// Unsubscribe removes the named filters from the session's
// subscription table. Removing a filter that was never subscribed is
// not an error; UNSUBACK carries no per-filter result in MQTT 3.1.1,
// so there is nothing to report either way.
func (s *Session) Unsubscribe(pkt *UnsubscribePacket) (*UnsubAck, error) {
	switch s.Kind {
	case SessionOffline, SessionDisconnecting:
		return nil, ErrSessionOffline
	}

	state := s.ensureState()
	for _, filter := range pkt.UnsubscribeFrom {
		delete(state.Subscriptions, filter)
	}
	return &UnsubAck{PacketID: pkt.PacketID}, nil
}

// Send forwards an event to the session's connection. Offline sessions
// have no connection to send to and fail with ErrSessionOffline.
// Disconnecting sessions still have a live handle for their final
// message before the coordinator expects them to be removed. Sending
// on an online variant stamps last_active, the same way a PINGREQ
// does.
func (s *Session) Send(event Event) error {
	if s.Kind == SessionOffline {
		return ErrSessionOffline
	}
	if s.Kind != SessionDisconnecting {
		s.ensureState().LastActive = time.Now()
	}
	if err := s.Handle.Send(NewMessage(s.ClientID, event)); err != nil {
		return wrapSendConnectionMessage(err)
	}
	return nil
}

// ensureState returns the session's SessionState, materializing an
// empty one for a Transient session on first use. Transient sessions
// carry no state when constructed; since Send stamps LastActive
// through ensureState, their first Send (normally the CONNACK)
// allocates it.
func (s *Session) ensureState() *SessionState {
	if s.State == nil {
		s.State = NewSessionState(s.ClientID, 0)
	}
	return s.State
}
