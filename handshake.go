package palantir

import (
	"context"
	"errors"
	"strings"

	"github.com/Peperworx/palantir/wire"
)

// HandshakeErrorKind enumerates handshake-specific failure modes, per
// spec.md §7.
type HandshakeErrorKind uint8

const (
	HandshakeUnexpectedPacket HandshakeErrorKind = iota
	HandshakeInvalidMagic
	HandshakeNameTaken
	HandshakeMalformedData
)

// HandshakeError is one handshake-specific failure: a terminal reason was
// (or is about to be) sent to the peer for one of these reasons, or, on the
// initiator, was received from the acceptor.
type HandshakeError struct {
	Kind HandshakeErrorKind
	Err  error
}

func (e *HandshakeError) Error() string {
	switch e.Kind {
	case HandshakeUnexpectedPacket:
		return "handshake: unexpected packet"
	case HandshakeInvalidMagic:
		return "handshake: invalid magic"
	case HandshakeNameTaken:
		return "handshake: name already taken"
	case HandshakeMalformedData:
		return "handshake: malformed data"
	default:
		return "handshake: unknown error"
	}
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// HandshakeErrors aggregates every error encountered while failing a
// handshake: the original detected violation plus any error encountered
// while notifying the peer of it, per spec.md §4.4/§7 ("multiple errors
// may chain; all are collected and surfaced").
type HandshakeErrors []error

func (e HandshakeErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return "handshake: " + strings.Join(parts, "; then while notifying peer: ")
}

// Unwrap exposes every aggregated error to errors.Is/errors.As.
func (e HandshakeErrors) Unwrap() []error { return e }

// abort sends reason to the peer as the one terminal reason frame §4.4
// requires, then returns cause plus any error hit while sending it,
// aggregated into a HandshakeErrors.
func abort(framed *wire.Framed, reason wire.Message, cause error) error {
	errs := HandshakeErrors{cause}
	if sendErr := framed.Send(reason); sendErr != nil {
		errs = append(errs, sendErr)
	}
	return errs
}

// recvStep reads the next handshake frame, translating an undecodable
// frame into a MalformedData abort (rather than a bare transport error),
// per spec.md §4.4's "before terminating... must transmit one terminal
// reason frame" for the malformed-data case too.
func recvStep(framed *wire.Framed) (wire.Message, error) {
	msg, err := framed.Recv()
	if err == nil {
		return msg, nil
	}
	var fe *wire.FramedError
	if errors.As(err, &fe) && fe.Kind == wire.InvalidEncoding {
		return nil, abort(framed, wire.MalformedData{}, &HandshakeError{Kind: HandshakeMalformedData, Err: err})
	}
	return nil, HandshakeErrors{err}
}

// framedValidatorStream narrows a *wire.Framed down to the ValidatorPacket
// exchange a Validator is permitted during the handshake window (§4.4 step
// 3): it can neither see nor forge the surrounding handshake frames.
type framedValidatorStream struct {
	framed *wire.Framed
}

func (s *framedValidatorStream) SendPacket(_ context.Context, payload []byte) error {
	return s.framed.Send(wire.ValidatorPacket{Payload: payload})
}

func (s *framedValidatorStream) RecvPacket(_ context.Context) ([]byte, error) {
	msg, err := recvStep(s.framed)
	if err != nil {
		return nil, err
	}
	vp, ok := msg.(wire.ValidatorPacket)
	if !ok {
		return nil, abort(s.framed, wire.UnexpectedPacket{}, &HandshakeError{Kind: HandshakeUnexpectedPacket})
	}
	return vp.Payload, nil
}

// NameChecker reports whether name is already present in the peer table,
// under whatever locking the peer table itself uses. The handshake calls
// it exactly once, between receiving the counterparty's name and entering
// the validator window, per spec.md §4.4.
type NameChecker func(name string) bool

// ClientHandshake runs the four-step handshake as the initiator (the side
// that dialed out) over framed, a stream freshly opened for this purpose.
// It returns the acceptor's declared name and the Validator state created
// for this connection.
func ClientHandshake(ctx context.Context, framed *wire.Framed, localName string, validator Validator, taken NameChecker) (string, any, error) {
	state := validator.CreateNewState(Initiator)

	if err := framed.Send(wire.ClientInitiation{MagicValue: wire.Magic, Name: localName}); err != nil {
		return "", nil, HandshakeErrors{err}
	}

	msg, err := recvStep(framed)
	if err != nil {
		return "", nil, err
	}
	// A terminal reason frame here means the acceptor has already aborted;
	// it is surfaced as-is, without sending a terminal frame back.
	var resp wire.ServerResponse
	switch m := msg.(type) {
	case wire.ServerResponse:
		resp = m
	case wire.NameTaken:
		return "", nil, HandshakeErrors{&HandshakeError{Kind: HandshakeNameTaken}}
	case wire.InvalidMagic:
		return "", nil, HandshakeErrors{&HandshakeError{Kind: HandshakeInvalidMagic}}
	case wire.UnexpectedPacket:
		return "", nil, HandshakeErrors{&HandshakeError{Kind: HandshakeUnexpectedPacket}}
	case wire.MalformedData:
		return "", nil, HandshakeErrors{&HandshakeError{Kind: HandshakeMalformedData}}
	default:
		return "", nil, abort(framed, wire.UnexpectedPacket{}, &HandshakeError{Kind: HandshakeUnexpectedPacket})
	}
	if resp.MagicValue != wire.Magic {
		return "", nil, abort(framed, wire.InvalidMagic{}, &HandshakeError{Kind: HandshakeInvalidMagic})
	}
	if taken(resp.Name) {
		return "", nil, abort(framed, wire.NameTaken{}, &HandshakeError{Kind: HandshakeNameTaken})
	}

	vs := &framedValidatorStream{framed: framed}
	if err := validator.Handshake(ctx, vs, state, resp.Name); err != nil {
		return "", nil, HandshakeErrors{err}
	}

	if err := framed.Send(wire.HandshakeCompleted{}); err != nil {
		return "", nil, HandshakeErrors{err}
	}

	return resp.Name, state, nil
}

// ServerHandshake runs the four-step handshake as the acceptor (the side
// that accepted an inbound session) over framed, a stream accepted for
// this purpose. It returns the initiator's declared name and the
// Validator state created for this connection.
func ServerHandshake(ctx context.Context, framed *wire.Framed, localName string, validator Validator, taken NameChecker) (string, any, error) {
	state := validator.CreateNewState(Acceptor)

	msg, err := recvStep(framed)
	if err != nil {
		return "", nil, err
	}
	init, ok := msg.(wire.ClientInitiation)
	if !ok {
		return "", nil, abort(framed, wire.UnexpectedPacket{}, &HandshakeError{Kind: HandshakeUnexpectedPacket})
	}
	if init.MagicValue != wire.Magic {
		return "", nil, abort(framed, wire.InvalidMagic{}, &HandshakeError{Kind: HandshakeInvalidMagic})
	}
	if taken(init.Name) {
		return "", nil, abort(framed, wire.NameTaken{}, &HandshakeError{Kind: HandshakeNameTaken})
	}

	if err := framed.Send(wire.ServerResponse{MagicValue: wire.Magic, Name: localName}); err != nil {
		return "", nil, HandshakeErrors{err}
	}

	vs := &framedValidatorStream{framed: framed}
	if err := validator.Handshake(ctx, vs, state, init.Name); err != nil {
		return "", nil, HandshakeErrors{err}
	}

	msg, err = recvStep(framed)
	if err != nil {
		return "", nil, err
	}
	if _, ok := msg.(wire.HandshakeCompleted); !ok {
		return "", nil, abort(framed, wire.UnexpectedPacket{}, &HandshakeError{Kind: HandshakeUnexpectedPacket})
	}

	return init.Name, state, nil
}
