package palantir

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Peperworx/palantir/wire"
)

// newPipe returns both halves of an in-memory net.Pipe() as wire.Streams;
// net.Conn already satisfies the interface directly.
func newPipe() (wire.Stream, wire.Stream) {
	a, b := net.Pipe()
	return a, b
}

func noneTaken(string) bool { return false }

func TestHandshakeSucceedsBothSides(t *testing.T) {
	clientSide, serverSide := newPipe()
	clientFramed := wire.NewFramed(clientSide)
	serverFramed := wire.NewFramed(serverSide)

	type result struct {
		name  string
		state any
		err   error
	}
	clientResult := make(chan result, 1)
	serverResult := make(chan result, 1)

	go func() {
		name, state, err := ClientHandshake(context.Background(), clientFramed, "a", PermissiveValidator{}, noneTaken)
		clientResult <- result{name, state, err}
	}()
	go func() {
		name, state, err := ServerHandshake(context.Background(), serverFramed, "b", PermissiveValidator{}, noneTaken)
		serverResult <- result{name, state, err}
	}()

	select {
	case r := <-clientResult:
		require.NoError(t, r.err)
		require.Equal(t, "b", r.name)
	case <-time.After(time.Second):
		t.Fatal("client handshake did not complete")
	}
	select {
	case r := <-serverResult:
		require.NoError(t, r.err)
		require.Equal(t, "a", r.name)
	case <-time.After(time.Second):
		t.Fatal("server handshake did not complete")
	}
}

func TestHandshakeNameTakenAborts(t *testing.T) {
	clientSide, serverSide := newPipe()
	clientFramed := wire.NewFramed(clientSide)
	serverFramed := wire.NewFramed(serverSide)

	alwaysTaken := func(string) bool { return true }

	clientErr := make(chan error, 1)
	go func() {
		_, _, err := ClientHandshake(context.Background(), clientFramed, "a", PermissiveValidator{}, noneTaken)
		clientErr <- err
	}()

	_, _, serverErr := ServerHandshake(context.Background(), serverFramed, "b", PermissiveValidator{}, alwaysTaken)
	require.Error(t, serverErr)

	var he *HandshakeError
	require.ErrorAs(t, serverErr, &he)
	require.Equal(t, HandshakeNameTaken, he.Kind)

	select {
	case err := <-clientErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not observe the abort")
	}
}

func TestHandshakeInvalidMagicAborts(t *testing.T) {
	clientSide, serverSide := newPipe()
	clientFramed := wire.NewFramed(clientSide)
	serverFramed := wire.NewFramed(serverSide)

	go func() {
		_ = clientFramed.Send(wire.ClientInitiation{MagicValue: "WRONGMAGIC", Name: "a"})
		// Read the server's terminal reason frame so its write on the
		// synchronous pipe can complete.
		_, _ = clientFramed.Recv()
	}()

	_, _, err := ServerHandshake(context.Background(), serverFramed, "b", PermissiveValidator{}, noneTaken)
	require.Error(t, err)

	var he *HandshakeError
	require.ErrorAs(t, err, &he)
	require.Equal(t, HandshakeInvalidMagic, he.Kind)
}
