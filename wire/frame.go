package wire

import (
	"encoding/binary"
	"io"
)

// Stream is the minimal duplex byte-stream abstraction Framed needs. A
// quic-go bidirectional stream satisfies it directly; net.Pipe() halves
// satisfy it for tests.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

const lengthPrefixSize = 4

// maxFrameSize is the largest payload length a u32 length prefix can
// represent.
const maxFrameSize = int(^uint32(0))

// SendFramed writes length-prefixed, CBOR-encoded Messages to an
// underlying Stream. It is not safe for concurrent use by multiple
// goroutines.
type SendFramed struct {
	w Stream
}

// NewSendFramed wraps w for framed sends.
func NewSendFramed(w Stream) *SendFramed {
	return &SendFramed{w: w}
}

// Send encodes msg and writes it to the stream as a u32-little-endian
// length prefix followed by the encoded bytes.
func (s *SendFramed) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return &FramedError{Kind: InvalidEncoding, Packet: data}
	}
	if len(data) > maxFrameSize {
		return &FramedError{
			Kind:       ExceedsSizeLimit,
			PacketSize: len(data),
			SizeLimit:  maxFrameSize,
			Reason:     "encoded message exceeds u32 length prefix",
		}
	}

	var header [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(data)))

	if _, err := s.w.Write(header[:]); err != nil {
		return wrapTransmission(NewTransportError(err))
	}
	if _, err := s.w.Write(data); err != nil {
		return wrapTransmission(NewTransportError(err))
	}
	return nil
}

// Close finishes the send side of the underlying stream.
func (s *SendFramed) Close() error {
	return s.w.Close()
}

// RecvFramed reads length-prefixed, CBOR-encoded Messages from an
// underlying Stream. It is not safe for concurrent use by multiple
// goroutines.
type RecvFramed struct {
	r Stream
}

// NewRecvFramed wraps r for framed receives.
func NewRecvFramed(r Stream) *RecvFramed {
	return &RecvFramed{r: r}
}

// Recv reads the next length-prefixed frame and decodes it into a
// Message.
func (r *RecvFramed) Recv() (Message, error) {
	var header [lengthPrefixSize]byte
	if n, err := io.ReadFull(r.r, header[:]); err != nil {
		return nil, wrapTransmission(endedEarlyOrTransport(err, lengthPrefixSize, n))
	}
	length := binary.LittleEndian.Uint32(header[:])

	data := make([]byte, length)
	if n, err := io.ReadFull(r.r, data); err != nil {
		return nil, wrapTransmission(endedEarlyOrTransport(err, int(length), n))
	}

	msg, err := Decode(data)
	if err != nil {
		return nil, &FramedError{Kind: InvalidEncoding, Packet: data}
	}
	return msg, nil
}

// Close closes the underlying Stream. It does not close a receive
// direction on its own: a quic-go stream's Close finishes its send side,
// and a net.Pipe() half closes both directions.
func (r *RecvFramed) Close() error {
	return r.r.Close()
}

func endedEarlyOrTransport(err error, expected, received int) *TransmissionError {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &TransmissionError{Kind: EndedEarly, Expected: expected, Received: received, Err: err}
	}
	return NewTransportError(err)
}

// Framed pairs a SendFramed and a RecvFramed over the two halves of one
// bidirectional Stream.
type Framed struct {
	*SendFramed
	*RecvFramed
}

// NewFramed wraps s for framed bidirectional use. The same Stream backs
// both the send and receive half, as is the case for a QUIC bidirectional
// stream or a single net.Pipe() half.
func NewFramed(s Stream) *Framed {
	return &Framed{
		SendFramed: NewSendFramed(s),
		RecvFramed: NewRecvFramed(s),
	}
}

// Close closes the underlying stream once. SendFramed.Close and
// RecvFramed.Close both delegate to the same stream, so calling either
// directly after this is redundant but harmless for a net.Pipe()-backed
// stream; a quic-go stream similarly tolerates a repeated Close.
func (f *Framed) Close() error {
	return f.SendFramed.Close()
}
