package broker

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// inboundBuffer is the capacity of the coordinator's inbound channel.
// A single slow session send can back up behind it, but connection
// workers are expected to apply their own backpressure upstream of
// that, the same division of responsibility as the original broker's
// mpsc channel.
const inboundBuffer = 1024

// Broker is the single-owner coordinator: it is the only goroutine
// that ever reads or writes the session map, so no lock guards it.
// Every other goroutine in the system reaches the broker only through
// a BrokerHandle's channel send.
type Broker struct {
	inbound  chan Message
	sessions map[ClientID]*Session
	log      *logrus.Entry
}

// New returns a Broker with an empty session table. Call Handle to get
// a sender for it and Run to start consuming.
func New(log *logrus.Entry) *Broker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broker{
		inbound:  make(chan Message, inboundBuffer),
		sessions: make(map[ClientID]*Session),
		log:      log.WithField("component", "broker"),
	}
}

// Handle returns a BrokerHandle bound to this broker's inbound
// channel. Handles are cheap to clone and safe to share across
// connection worker goroutines.
func (b *Broker) Handle() BrokerHandle {
	return BrokerHandle{inbound: b.inbound}
}

// Run drains the inbound channel until it is closed or ctx is
// canceled, dispatching each message to its handler in order. After
// the channel is closed it returns once the buffered messages are
// handled; when ctx is canceled it returns at once, leaving any
// queued messages unprocessed.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.log.Debug("broker stopping: context canceled")
			return
		case message, ok := <-b.inbound:
			if !ok {
				b.log.Debug("broker stopping: inbound channel closed")
				return
			}
			b.handleMessage(message)
		}
	}
}

func (b *Broker) handleMessage(message Message) {
	log := b.log.WithField("client_id", message.ClientID.String())
	event := message.Event

	var err error
	switch event.Kind {
	case EventConnReq:
		err = b.handleConnect(log, message.ClientID, event.Connect, event.Handle)
	case EventConnAck:
		log.Debug("broker received CONNACK, ignoring")
	case EventDisconnect:
		err = b.handleDisconnect(log, message.ClientID)
	case EventDropConnection:
		err = b.handleDropConnection(log, message.ClientID)
	case EventCloseSession:
		b.handleCloseSession(log, message.ClientID)
	case EventPingReq:
		err = b.handlePingReq(log, message.ClientID)
	case EventPingResp:
		log.Debug("broker received PINGRESP, ignoring")
	case EventSubscribe:
		err = b.handleSubscribe(log, message.ClientID, event.Subscribe)
	case EventUnsubscribe:
		err = b.handleUnsubscribe(log, message.ClientID, event.Unsubscribe)
	case EventSubAck, EventUnsubAck:
		log.Debug("broker received an outbound-only event, ignoring")
	default:
		log.Debug("broker received unknown event, ignoring")
	}

	if err != nil {
		log.WithError(err).Warn("error processing message")
	}
}

// handleConnect implements the CONNECT protocol rules: a second
// CONNECT on the same physical connection is a protocol violation
// (MQTT-3.1.0-2), while a CONNECT reusing a client id already bound to
// a different connection is a legitimate takeover that evicts the
// prior connection (MQTT-3.1.4-2).
func (b *Broker) handleConnect(log *logrus.Entry, clientID ClientID, connect *ConnectPacket, handle ConnectionHandle) error {
	log.Debug("handling connect")

	existing, hadSession := b.sessions[clientID]
	// Unconditionally remove any existing session; the protocol
	// violation branch below returns without reinserting it, which
	// drops the session along with the connection rather than just
	// evicting the stale connection.
	delete(b.sessions, clientID)
	var session *Session
	sessionPresent := false
	cleanSession := connect == nil || connect.CleanSession

	switch {
	case hadSession && existing.Handle.Equal(handle):
		log.Warn("CONNECT received on an already established connection, dropping connection due to protocol violation")
		return handle.Send(NewMessage(clientID, Event{Kind: EventDropConnection}))

	case hadSession:
		// existing may still have a live connection (Persistent or
		// Transient) or be Offline; either way it's replaced here, so
		// evict the live connection if there is one.
		if existing.Kind != SessionOffline {
			log.Info("connect request for an in-use client id, closing previous connection")
			if sendErr := existing.Send(Event{Kind: EventDropConnection}); sendErr != nil {
				log.WithError(sendErr).Warn("error processing message")
			}
		} else {
			log.Debug("resuming an offline session")
		}

		if !cleanSession && existing.Kind != SessionTransient && existing.State != nil {
			// Resume the retained session state under the new
			// connection, whether it came from a live Persistent
			// session or a retained Offline one.
			session = NewPersistentSession(existing.State, handle)
			sessionPresent = true
		} else {
			// A clean-session takeover, or any takeover of a Transient
			// session, discards whatever the prior connection or
			// offline state had, the same as a fresh connect.
			session = NewTransientSession(clientID, handle)
		}

	default:
		log.Debug("creating new session")
		session = NewTransientSession(clientID, handle)
	}

	if !cleanSession && session.State == nil {
		var keepAlive time.Duration
		if connect != nil {
			keepAlive = connect.KeepAlive
		}
		session.State = NewSessionState(clientID, keepAlive)
		session.Kind = SessionPersistent
	}

	ack := Event{Kind: EventConnAck, ConnAck: &ConnAck{SessionPresent: sessionPresent, ReturnCode: ReturnCodeAccepted}}
	if sendErr := session.Send(ack); sendErr != nil {
		b.sessions[clientID] = session
		return sendErr
	}

	b.sessions[clientID] = session
	log.Debug("connect handled")
	return nil
}

func (b *Broker) handleDisconnect(log *logrus.Entry, clientID ClientID) error {
	log.Debug("handling disconnect")
	session, ok := b.sessions[clientID]
	if !ok {
		log.Debug("no session for client")
		return nil
	}
	err := session.Send(Event{Kind: EventDisconnect})
	b.retireSession(log, clientID, session)
	return err
}

func (b *Broker) handleDropConnection(log *logrus.Entry, clientID ClientID) error {
	log.Debug("handling drop connection")
	session, ok := b.sessions[clientID]
	if !ok {
		log.Debug("no session for client")
		return nil
	}
	err := session.Send(Event{Kind: EventDropConnection})
	b.retireSession(log, clientID, session)
	return err
}

// retireSession removes a disconnecting session's live connection from
// the session table. A Persistent session survives as Offline with its
// state retained, and an Offline session is left as it is; Transient
// and Disconnecting sessions are dropped entirely, since they have
// nothing worth keeping around for a future reconnect.
func (b *Broker) retireSession(log *logrus.Entry, clientID ClientID, session *Session) {
	switch session.Kind {
	case SessionPersistent:
		log.Debug("retaining session state, moving to offline")
		b.sessions[clientID] = NewOfflineSession(session.State)
		return
	case SessionOffline:
		log.Debug("session already offline")
		return
	}
	delete(b.sessions, clientID)
}

func (b *Broker) handleCloseSession(log *logrus.Entry, clientID ClientID) {
	log.Debug("handling close session")
	if _, ok := b.sessions[clientID]; ok {
		delete(b.sessions, clientID)
		log.Debug("session removed")
		return
	}
	log.Debug("no session for client")
}

func (b *Broker) handlePingReq(log *logrus.Entry, clientID ClientID) error {
	log.Debug("handling ping request")
	session, ok := b.sessions[clientID]
	if !ok {
		log.Debug("no session for client")
		return nil
	}
	return session.Send(Event{Kind: EventPingResp})
}

func (b *Broker) handleSubscribe(log *logrus.Entry, clientID ClientID, pkt *SubscribePacket) error {
	log.Debug("handling subscribe")
	session, ok := b.sessions[clientID]
	if !ok {
		log.Debug("no session for client")
		return nil
	}
	ack, err := session.Subscribe(pkt)
	if err != nil {
		return err
	}
	return session.Send(Event{Kind: EventSubAck, SubAck: ack})
}

func (b *Broker) handleUnsubscribe(log *logrus.Entry, clientID ClientID, pkt *UnsubscribePacket) error {
	log.Debug("handling unsubscribe")
	session, ok := b.sessions[clientID]
	if !ok {
		log.Debug("no session for client")
		return nil
	}
	ack, err := session.Unsubscribe(pkt)
	if err != nil {
		return err
	}
	return session.Send(Event{Kind: EventUnsubAck, UnsubAck: ack})
}

// ClientIDs returns a sorted snapshot of the client ids currently
// tracked by the broker. It reads the session map directly rather than
// going through the inbound channel, so it is meant for diagnostics
// and tests run after the broker has quiesced, not for use while
// traffic is actively being dispatched — the single-owner design has
// no lock to make a concurrent read of the map safe otherwise.
func (b *Broker) ClientIDs() []string {
	ids := make([]string, 0, len(b.sessions))
	for _, id := range maps.Keys(b.sessions) {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)
	return ids
}

// BrokerHandle is a cloneable sender into the broker's inbound
// channel. It is the only way a connection worker talks to the
// broker.
type BrokerHandle struct {
	inbound chan<- Message
}

// Send enqueues a message for the broker to process. It fails with a
// SendBrokerMessage error if the inbound channel is full or closed.
func (h BrokerHandle) Send(message Message) (err error) {
	if h.inbound == nil {
		return &Error{Kind: KindSendBrokerMessage}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindSendBrokerMessage}
		}
	}()
	select {
	case h.inbound <- message:
		return nil
	default:
		return &Error{Kind: KindSendBrokerMessage}
	}
}
