package ws

import (
	"sync"

	"vestnik/internal/metrics"
	"vestnik/internal/models"
)

type callState int

const (
	callRinging callState = iota + 1
	callActive
)

// callSession is the ephemeral state of one call attempt between two
// users. Sessions are never persisted; they end on end-call, reject or
// disconnect of either party.
type callSession struct {
	caller string
	callee string
	kind   models.CallKind
	state  callState
}

func (s *callSession) peerOf(userID string) (string, bool) {
	switch userID {
	case s.caller:
		return s.callee, true
	case s.callee:
		return s.caller, true
	}
	return "", false
}

// SignalRouter relays call negotiation events between exactly two
// parties and tracks at most one call session per participant pair.
type SignalRouter struct {
	hub *Hub

	mu       sync.Mutex
	sessions map[string]*callSession
}

func NewSignalRouter(hub *Hub) *SignalRouter {
	return &SignalRouter{
		hub:      hub,
		sessions: make(map[string]*callSession),
	}
}

func sessionKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// StartCall rings the callee. The ringing session is registered before
// the incoming-call event goes out, so an accept that races the
// delivery still finds it. If the callee turns out to be offline the
// session is retracted and the caller is not notified, it applies its
// own timeout.
func (r *SignalRouter) StartCall(caller, callee string, kind models.CallKind) {
	key := sessionKey(caller, callee)
	session := &callSession{
		caller: caller,
		callee: callee,
		kind:   kind,
		state:  callRinging,
	}

	r.mu.Lock()
	r.sessions[key] = session
	r.mu.Unlock()

	delivered := r.hub.DeliverToUser(callee, models.ServerEvent{
		Type: models.ServerEventIncomingCall,
		From: caller,
		Kind: kind,
	})
	if !delivered {
		r.mu.Lock()
		if r.sessions[key] == session {
			delete(r.sessions, key)
		}
		r.mu.Unlock()

		metrics.SignalingDropped.Inc()
		return
	}

	metrics.CallEvents.WithLabelValues("start").Inc()
}

// AcceptCall moves a ringing session to active and notifies the caller.
func (r *SignalRouter) AcceptCall(callee, caller string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionKey(caller, callee)]
	if !ok || session.state != callRinging || session.callee != callee {
		r.mu.Unlock()
		return
	}
	session.state = callActive
	r.mu.Unlock()

	r.hub.DeliverToUser(caller, models.ServerEvent{
		Type: models.ServerEventCallAccepted,
		From: callee,
	})
	metrics.CallEvents.WithLabelValues("accept").Inc()
}

// RejectCall ends a ringing session and notifies the caller.
func (r *SignalRouter) RejectCall(callee, caller string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionKey(caller, callee)]
	if !ok || session.state != callRinging || session.callee != callee {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionKey(caller, callee))
	r.mu.Unlock()

	r.hub.DeliverToUser(caller, models.ServerEvent{
		Type: models.ServerEventCallRejected,
		From: callee,
	})
	metrics.CallEvents.WithLabelValues("reject").Inc()
}

// EndCall ends every session the user is part of. The call-ended event
// is scoped to the two participants of each session, never broadcast.
func (r *SignalRouter) EndCall(userID string) {
	for _, session := range r.takeSessionsOf(userID) {
		event := models.ServerEvent{
			Type: models.ServerEventCallEnded,
			From: userID,
		}
		r.hub.DeliverToUser(session.caller, event)
		r.hub.DeliverToUser(session.callee, event)
		metrics.CallEvents.WithLabelValues("end").Inc()
	}
}

// HandleDisconnect treats an abrupt disconnect as an implicit end-call
// for every session the user was part of. Only the surviving peer is
// notified.
func (r *SignalRouter) HandleDisconnect(userID string) {
	for _, session := range r.takeSessionsOf(userID) {
		peer, _ := session.peerOf(userID)
		r.hub.DeliverToUser(peer, models.ServerEvent{
			Type: models.ServerEventCallEnded,
			From: userID,
		})
		metrics.CallEvents.WithLabelValues("end").Inc()
	}
}

// Forward relays a negotiation payload (offer, answer or ICE candidate)
// to its target, annotated with the sender. Payloads for offline targets
// are dropped silently: they are not durable and a missed delivery just
// stalls that call attempt until the clients time out.
func (r *SignalRouter) Forward(eventType models.ServerEventType, from string, ev models.ClientEvent) {
	delivered := r.hub.DeliverToUser(ev.To, models.ServerEvent{
		Type:      eventType,
		From:      from,
		SDP:       ev.SDP,
		Candidate: ev.Candidate,
	})
	if !delivered {
		metrics.SignalingDropped.Inc()
	}
}

// takeSessionsOf removes and returns every session the user is part of.
func (r *SignalRouter) takeSessionsOf(userID string) []*callSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*callSession
	for key, session := range r.sessions {
		if _, ok := session.peerOf(userID); ok {
			out = append(out, session)
			delete(r.sessions, key)
		}
	}
	return out
}

// sessionState reports the current state of the session between two
// users, if any. Used by tests.
func (r *SignalRouter) sessionState(a, b string) (callState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionKey(a, b)]
	if !ok {
		return 0, false
	}
	return session.state, true
}
