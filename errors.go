package palantir

import (
	"errors"
	"fmt"
)

// errChannelClosed is returned (wrapped in a TransmissionError) when a
// Request is still in flight when its owning Channel is closed.
var errChannelClosed = errors.New("palantir: channel closed")

// ConnectError covers failures establishing an outbound connection: bad
// address, DNS failure, rejected session, or an underlying transport
// error during dial. Grounded on client2/connection.go's *ConnectError.
type ConnectError struct {
	Addr string
	Err  error
}

func newConnectError(addr string, f string, a ...interface{}) *ConnectError {
	return &ConnectError{Addr: addr, Err: fmt.Errorf(f, a...)}
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return "palantir: connect to " + e.Addr + ": " + e.Err.Error()
	}
	return "palantir: connect to " + e.Addr + " failed"
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ConnectionError covers failures of an already-established connection:
// peer-closed, locally-closed, locally-aborted, timed-out, or a wrapped
// transport error.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Err  error
}

// ConnectionErrorKind enumerates connection-level failure modes, per
// spec.md §7.
type ConnectionErrorKind uint8

const (
	ConnPeerClosed ConnectionErrorKind = iota
	ConnLocallyClosed
	ConnLocallyAborted
	ConnTimedOut
	ConnTransportError
)

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case ConnPeerClosed:
		return "palantir: connection closed by peer"
	case ConnLocallyClosed:
		return "palantir: connection closed locally"
	case ConnLocallyAborted:
		return "palantir: connection aborted locally"
	case ConnTimedOut:
		return "palantir: connection timed out"
	default:
		if e.Err != nil {
			return "palantir: connection transport error: " + e.Err.Error()
		}
		return "palantir: connection transport error"
	}
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RouterError covers failures resolving or using an outbound sender:
// unknown peer, unknown actor, send failure, or decode failure.
type RouterError struct {
	Kind RouterErrorKind
	Peer string
	Err  error
}

// RouterErrorKind enumerates router failure modes, per spec.md §7.
type RouterErrorKind uint8

const (
	RouterUnknownPeer RouterErrorKind = iota
	RouterUnknownActor
	RouterSendFailed
	RouterDecodeFailed
)

func (e *RouterError) Error() string {
	switch e.Kind {
	case RouterUnknownPeer:
		return "palantir: unknown peer " + e.Peer
	case RouterUnknownActor:
		return "palantir: unknown actor on peer " + e.Peer
	case RouterDecodeFailed:
		return "palantir: failed to decode response from " + e.Peer
	default:
		if e.Err != nil {
			return "palantir: send to " + e.Peer + " failed: " + e.Err.Error()
		}
		return "palantir: send to " + e.Peer + " failed"
	}
}

func (e *RouterError) Unwrap() error { return e.Err }

func newRouterError(kind RouterErrorKind, peer string, err error) *RouterError {
	return &RouterError{Kind: kind, Peer: peer, Err: err}
}
