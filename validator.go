package palantir

import (
	"context"
)

// Side identifies which role a connection's local end played in the
// handshake, per original_source/src/message.rs's Side enum. A Validator's
// per-connection state is created once per connection, per side.
type Side uint8

const (
	// Initiator dialed out and sent ClientInitiation first.
	Initiator Side = iota
	// Acceptor accepted an inbound session and sent ServerResponse.
	Acceptor
)

func (s Side) String() string {
	if s == Initiator {
		return "initiator"
	}
	return "acceptor"
}

// IncomingSession describes an inbound connection attempt before any
// handshake frame has been read, for a Validator's pre-handshake admission
// hook.
type IncomingSession struct {
	RemoteAddr string
}

// SessionRequest describes an inbound connection attempt after the peer
// name header has been read but before the handshake stream is processed.
type SessionRequest struct {
	RemoteAddr string
	Name       string
}

// ValidatorStream is the framed handshake stream a Validator's handshake
// hook drives during the validator window (§4.4 step 3). It is
// intentionally narrower than *wire.Framed: a Validator may only exchange
// ValidatorPacket frames, never see or forge the surrounding handshake
// frames.
type ValidatorStream interface {
	SendPacket(ctx context.Context, payload []byte) error
	RecvPacket(ctx context.Context) ([]byte, error)
}

// Validator is the pluggable admission and handshake-window policy hook,
// per spec.md §4.8. A Peer holds exactly one Validator; this package has no
// combinator that composes several into one.
type Validator interface {
	// CreateNewState is called once per connection, per side, before any
	// handshake frame is exchanged.
	CreateNewState(side Side) any

	// ValidateIncomingSession is the first admission hook for an inbound
	// connection, before any peer name is known. Returning ok == false
	// refuses the session outright.
	ValidateIncomingSession(session *IncomingSession) (state any, ok bool)

	// ValidateSessionRequest is an admission hook for an inbound connection
	// whose peer name is known; false means refuse. Peer never calls it:
	// its inbound path runs ValidateIncomingSession and then the handshake,
	// whose name check takes this hook's place.
	ValidateSessionRequest(req *SessionRequest, state any) bool

	// Handshake drives the validator window itself (§4.4 step 3),
	// exchanging zero or more ValidatorPacket frames over stream. An error
	// return aborts the handshake.
	Handshake(ctx context.Context, stream ValidatorStream, state any, peerName string) error
}

// PermissiveValidator accepts every session unconditionally and exchanges
// no ValidatorPacket frames during the handshake window. It is suitable
// for tests and for deployments that delegate admission entirely to TLS.
type PermissiveValidator struct{}

func (PermissiveValidator) CreateNewState(Side) any { return nil }

func (PermissiveValidator) ValidateIncomingSession(*IncomingSession) (any, bool) {
	return nil, true
}

func (PermissiveValidator) ValidateSessionRequest(*SessionRequest, any) bool {
	return true
}

func (PermissiveValidator) Handshake(context.Context, ValidatorStream, any, string) error {
	return nil
}
