// Package wire implements the length-prefixed framed message codec and the
// tagged wire message schema palantir peers exchange over a bidirectional
// stream, per spec.md §4.1 and §4.6.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Magic is the fixed eight-byte string every handshake-opening message must
// carry. A mismatch is an InvalidMagic handshake failure.
const Magic = "PALANTIR"

// RequestID correlates a Request frame with its Response frame within one
// Channel. It is only unique within the lifetime of one pending request on
// one channel, not globally.
type RequestID uint32

// MessageTypeID is a static string a hosting runtime assigns per message
// type; combined with an ActorID it keys the local handler registry.
type MessageTypeID string

// ActorKind discriminates the two ways an ActorID can name an actor.
type ActorKind uint8

const (
	// ActorNumeric identifies an actor by a 64-bit numeric id.
	ActorNumeric ActorKind = iota
	// ActorNamed identifies an actor by a string name.
	ActorNamed
)

// ActorID identifies an actor on a peer, either by number or by name. The
// zero value is the numeric actor 0, which is a valid (if unusual) id.
type ActorID struct {
	Kind   ActorKind
	Number uint64
	Name   string
}

// Numeric constructs a numerically-identified ActorID.
func Numeric(id uint64) ActorID { return ActorID{Kind: ActorNumeric, Number: id} }

// Named constructs a name-identified ActorID.
func Named(name string) ActorID { return ActorID{Kind: ActorNamed, Name: name} }

// String renders the ActorID for logging.
func (a ActorID) String() string {
	switch a.Kind {
	case ActorNumeric:
		return fmt.Sprintf("#%d", a.Number)
	case ActorNamed:
		return fmt.Sprintf("%q", a.Name)
	default:
		return "<invalid actor id>"
	}
}

// Kind is the wire discriminant for a Message, laid out per spec.md §4.6's
// variant table.
type Kind uint8

const (
	KindClientInitiation Kind = iota
	KindServerResponse
	KindValidatorPacket
	KindHandshakeCompleted
	KindRequest
	KindResponse
	KindNameTaken
	KindInvalidMagic
	KindUnexpectedPacket
	KindMalformedData
)

func (k Kind) String() string {
	switch k {
	case KindClientInitiation:
		return "ClientInitiation"
	case KindServerResponse:
		return "ServerResponse"
	case KindValidatorPacket:
		return "ValidatorPacket"
	case KindHandshakeCompleted:
		return "HandshakeCompleted"
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindNameTaken:
		return "NameTaken"
	case KindInvalidMagic:
		return "InvalidMagic"
	case KindUnexpectedPacket:
		return "UnexpectedPacket"
	case KindMalformedData:
		return "MalformedData"
	default:
		return "Unknown"
	}
}

// Message is implemented by every variant of the one tagged wire
// enumeration palantir peers exchange. The method is unexported, sealing
// the interface to this package's concrete variant types.
type Message interface {
	messageKind() Kind
}

// ClientInitiation is sent by the initiator to the acceptor as the first
// handshake frame.
type ClientInitiation struct {
	MagicValue string
	Name       string
}

func (ClientInitiation) messageKind() Kind { return KindClientInitiation }

// ServerResponse is sent by the acceptor to the initiator as the second
// handshake frame.
type ServerResponse struct {
	MagicValue string
	Name       string
}

func (ServerResponse) messageKind() Kind { return KindServerResponse }

// ValidatorPacket carries an opaque, validator-defined payload exchanged
// during the handshake's validator window (§4.4 step 3). The payload's
// structure is entirely up to the Validator implementation in use; this
// package never inspects it.
type ValidatorPacket struct {
	Payload []byte
}

func (ValidatorPacket) messageKind() Kind { return KindValidatorPacket }

// HandshakeCompleted terminates the handshake window (§4.4 step 4).
type HandshakeCompleted struct{}

func (HandshakeCompleted) messageKind() Kind { return KindHandshakeCompleted }

// Request is an open-channel request with an arbitrary opaque payload.
type Request struct {
	ID   RequestID
	Data []byte
}

func (Request) messageKind() Kind { return KindRequest }

// Response replies to a Request previously sent with the same ID.
type Response struct {
	ID   RequestID
	Data []byte
}

func (Response) messageKind() Kind { return KindResponse }

// NameTaken is a terminal handshake reason: the counterparty's name was
// already present in the peer table.
type NameTaken struct{}

func (NameTaken) messageKind() Kind { return KindNameTaken }

// InvalidMagic is a terminal handshake reason: the magic string didn't
// match Magic.
type InvalidMagic struct{}

func (InvalidMagic) messageKind() Kind { return KindInvalidMagic }

// UnexpectedPacket is a terminal handshake reason: a well-formed frame of
// the wrong variant was received.
type UnexpectedPacket struct{}

func (UnexpectedPacket) messageKind() Kind { return KindUnexpectedPacket }

// MalformedData is a terminal handshake reason: a frame failed to decode.
type MalformedData struct{}

func (MalformedData) messageKind() Kind { return KindMalformedData }

// envelope is the one CBOR-encoded shape every Message variant is packed
// into and unpacked from. Fields are tagged `omitempty` so that small
// variants (the terminal reason codes, HandshakeCompleted) encode to just
// their discriminant byte plus CBOR map overhead.
type envelope struct {
	Kind    Kind   `cbor:"0,keyasint"`
	Magic   string `cbor:"1,keyasint,omitempty"`
	Name    string `cbor:"2,keyasint,omitempty"`
	Payload []byte `cbor:"3,keyasint,omitempty"`
	ReqID   uint32 `cbor:"4,keyasint,omitempty"`
	Data    []byte `cbor:"5,keyasint,omitempty"`
}

// Encode serializes a Message to its wire representation.
func Encode(msg Message) ([]byte, error) {
	env := envelope{Kind: msg.messageKind()}
	switch m := msg.(type) {
	case ClientInitiation:
		env.Magic, env.Name = m.MagicValue, m.Name
	case ServerResponse:
		env.Magic, env.Name = m.MagicValue, m.Name
	case ValidatorPacket:
		env.Payload = m.Payload
	case HandshakeCompleted:
	case Request:
		env.ReqID, env.Data = uint32(m.ID), m.Data
	case Response:
		env.ReqID, env.Data = uint32(m.ID), m.Data
	case NameTaken:
	case InvalidMagic:
	case UnexpectedPacket:
	case MalformedData:
	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}
	return cbor.Marshal(env)
}

// Decode deserializes a Message from its wire representation. It returns an
// error if the bytes don't decode into a recognized envelope at all; an
// unrecognized Kind value is also an error, since version skew on the
// envelope shape itself isn't something this layer can recover from (the
// caller, e.g. the router's inbound dispatch, is responsible for treating
// decode failures as droppable version skew where spec.md calls for that).
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindClientInitiation:
		return ClientInitiation{MagicValue: env.Magic, Name: env.Name}, nil
	case KindServerResponse:
		return ServerResponse{MagicValue: env.Magic, Name: env.Name}, nil
	case KindValidatorPacket:
		return ValidatorPacket{Payload: env.Payload}, nil
	case KindHandshakeCompleted:
		return HandshakeCompleted{}, nil
	case KindRequest:
		return Request{ID: RequestID(env.ReqID), Data: env.Data}, nil
	case KindResponse:
		return Response{ID: RequestID(env.ReqID), Data: env.Data}, nil
	case KindNameTaken:
		return NameTaken{}, nil
	case KindInvalidMagic:
		return InvalidMagic{}, nil
	case KindUnexpectedPacket:
		return UnexpectedPacket{}, nil
	case KindMalformedData:
		return MalformedData{}, nil
	default:
		return nil, fmt.Errorf("wire: unrecognized message kind %d", env.Kind)
	}
}
