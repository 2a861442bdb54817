package palantir

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Peperworx/palantir/wire"
)

// echoOnRequest replies to every inbound Request with its Data reversed,
// so tests can distinguish a correlated response from a coincidentally
// identical echo.
func echoOnRequest(t *testing.T, ch *Channel) RequestHandler {
	return func(id wire.RequestID, data []byte) {
		reversed := make([]byte, len(data))
		for i, b := range data {
			reversed[len(data)-1-i] = b
		}
		require.NoError(t, ch.Respond(id, reversed))
	}
}

func TestChannelRequestEchoRoundTrip(t *testing.T) {
	a, b := net.Pipe()

	var serverCh *Channel
	serverCh = NewChannel(b, time.Second, nil)
	serverCh.onReq = echoOnRequest(t, serverCh)
	defer serverCh.Close()

	clientCh := NewChannel(a, time.Second, nil)
	defer clientCh.Close()

	resp, err := clientCh.Request(context.Background(), []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.True(t, bytes.Equal([]byte{0x03, 0x02, 0x01}, resp))
}

func TestChannelRequestZeroBytePayload(t *testing.T) {
	a, b := net.Pipe()

	var serverCh *Channel
	serverCh = NewChannel(b, time.Second, nil)
	serverCh.onReq = echoOnRequest(t, serverCh)
	defer serverCh.Close()

	clientCh := NewChannel(a, time.Second, nil)
	defer clientCh.Close()

	resp, err := clientCh.Request(context.Background(), []byte{})
	require.NoError(t, err)
	require.Empty(t, resp)
}

func TestChannelRequestTimesOutWithNoResponder(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	// The peer reads every frame but never responds.
	go io.Copy(io.Discard, b)

	clientCh := NewChannel(a, 20*time.Millisecond, nil)
	defer clientCh.Close()

	_, err := clientCh.Request(context.Background(), []byte("hello"))
	require.Error(t, err)
}

func TestChannelRequestHonorsContextCancellation(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	// The peer reads every frame but never responds.
	go io.Copy(io.Discard, b)

	clientCh := NewChannel(a, time.Minute, nil)
	defer clientCh.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := clientCh.Request(ctx, []byte("hello"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelTerminatesAfterConsecutiveErrors(t *testing.T) {
	a, b := net.Pipe()

	ch := NewChannel(b, time.Second, nil)
	defer ch.Close()

	// Closing the other half makes every subsequent Recv fail; the
	// run-loop should count five of these in a row and halt itself,
	// per spec.md §4.3's consecutive-error threshold.
	a.Close()

	require.Eventually(t, ch.IsHalted, time.Second, 5*time.Millisecond)
}

// TestChannelTerminatesAfterFiveUndecodableFrames covers spec.md §8
// scenario 6 more literally than the closed-pipe variant above: the peer
// keeps the stream open but sends five frames in a row whose payload
// isn't valid CBOR, and the run-loop must still halt after the fifth.
func TestChannelTerminatesAfterFiveUndecodableFrames(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()

	ch := NewChannel(b, time.Second, nil)
	defer ch.Close()

	for i := 0; i < consecutiveErrorThreshold; i++ {
		require.NoError(t, sendGarbageFrame(a))
	}

	require.Eventually(t, ch.IsHalted, time.Second, 5*time.Millisecond)
}

// sendGarbageFrame writes one length-prefixed frame whose payload is not
// valid CBOR, using the same u32-little-endian length prefix wire.Framed
// expects, so it parses as a frame but fails to decode as a Message.
func sendGarbageFrame(w net.Conn) error {
	garbage := []byte{0xff, 0xff, 0xff, 0xff}
	header := []byte{byte(len(garbage)), 0, 0, 0}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(garbage)
	return err
}
