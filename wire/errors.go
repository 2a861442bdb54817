package wire

import "fmt"

// TransmissionError covers failures in the underlying byte stream itself,
// below the level of frame parsing.
type TransmissionError struct {
	// Kind classifies the failure.
	Kind TransmissionErrorKind
	// Expected and Received are populated for Kind == EndedEarly.
	Expected int
	Received int
	// Code is populated for Kind == PeerDisconnected.
	Code uint64
	// Err is the underlying transport error, if any.
	Err error
}

// TransmissionErrorKind enumerates the ways a stream-level transmission can
// fail, per spec.md §7.
type TransmissionErrorKind uint8

const (
	// NotConnected indicates an operation was attempted with no live
	// connection.
	NotConnected TransmissionErrorKind = iota
	// PeerDisconnected indicates the remote peer closed the stream with an
	// application-level code.
	PeerDisconnected
	// TransportErr wraps a lower-level transport failure.
	TransportErr
	// EndedEarly indicates a read terminated before the expected number of
	// bytes were available.
	EndedEarly
	// Refused indicates the peer refused the stream or connection outright.
	Refused
)

func (e *TransmissionError) Error() string {
	switch e.Kind {
	case NotConnected:
		return "transmission: not connected"
	case PeerDisconnected:
		return fmt.Sprintf("transmission: peer disconnected (code %d)", e.Code)
	case TransportErr:
		return fmt.Sprintf("transmission: transport error: %v", e.Err)
	case EndedEarly:
		return fmt.Sprintf("transmission: ended early: expected %d bytes, received %d", e.Expected, e.Received)
	case Refused:
		return "transmission: refused"
	default:
		return "transmission: unknown error"
	}
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// NewTransportError wraps an arbitrary I/O error as a transport-level
// TransmissionError.
func NewTransportError(err error) *TransmissionError {
	return &TransmissionError{Kind: TransportErr, Err: err}
}

// FramedError covers failures at the frame layer: bad encodings, oversize
// payloads, or a wrapped TransmissionError from the stream beneath it.
type FramedError struct {
	// Kind classifies the failure.
	Kind FramedErrorKind
	// Packet holds the raw bytes that failed to decode, for Kind ==
	// InvalidEncoding.
	Packet []byte
	// PacketSize and SizeLimit are populated for Kind == ExceedsSizeLimit.
	PacketSize int
	SizeLimit  int
	Reason     string
	// Transmission is populated for Kind == Transmission.
	Transmission *TransmissionError
}

// FramedErrorKind enumerates the ways framing can fail, per spec.md §7.
type FramedErrorKind uint8

const (
	// InvalidEncoding indicates a frame's payload failed to deserialize.
	InvalidEncoding FramedErrorKind = iota
	// ExceedsSizeLimit indicates a payload was too large to frame.
	ExceedsSizeLimit
	// Transmission indicates the underlying stream failed.
	Transmission
)

func (e *FramedError) Error() string {
	switch e.Kind {
	case InvalidEncoding:
		return fmt.Sprintf("framed: invalid encoding (%d bytes)", len(e.Packet))
	case ExceedsSizeLimit:
		return fmt.Sprintf("framed: packet of %d bytes exceeds limit of %d: %s", e.PacketSize, e.SizeLimit, e.Reason)
	case Transmission:
		return fmt.Sprintf("framed: %v", e.Transmission)
	default:
		return "framed: unknown error"
	}
}

func (e *FramedError) Unwrap() error {
	if e.Kind == Transmission {
		return e.Transmission
	}
	return nil
}

// AsTransportError reports whether this FramedError ultimately boils down to
// a transport-level failure (connection lost, reset, etc.) as opposed to a
// well-formed protocol violation.
func (e *FramedError) AsTransportError() bool {
	return e.Kind == Transmission
}

func wrapTransmission(err *TransmissionError) *FramedError {
	return &FramedError{Kind: Transmission, Transmission: err}
}
