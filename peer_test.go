package palantir

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Peperworx/palantir/wire"
)

func newTestPeer(t *testing.T, name string) *Peer {
	t.Helper()
	p, err := New("127.0.0.1:0", name, PermissiveValidator{}, WithRequestTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// TestPeerHandshakeAndRequestRoundTrip dials two Peers over loopback QUIC,
// registers an actor on the accepting side, and sends a request from the
// dialing side through GetActor — covering spec.md §8 scenarios 1 and 2
// end to end: a successful mutual handshake followed by a routed
// request/response exchange.
func TestPeerHandshakeAndRequestRoundTrip(t *testing.T) {
	alice := newTestPeer(t, "alice")
	bob := newTestPeer(t, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alice.Run(ctx)
	go bob.Run(ctx)

	actor := wire.Named("greeter")
	msgType := wire.MessageTypeID("greet")

	bob.Register(actor, msgType, func(ctx context.Context, data []byte) ([]byte, error) {
		return append([]byte("hello, "), data...), nil
	})

	connected := make(chan string, 1)
	alice.OnNewConnection(func(peerName string) { connected <- peerName })

	require.NoError(t, alice.AddPeer(context.Background(), bob.Addr()))

	select {
	case name := <-connected:
		require.Equal(t, "bob", name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection callback")
	}

	sender, err := alice.GetActor(context.Background(), Identifier{Kind: ForeignNamed, Peer: "bob", Name: "greeter"}, msgType)
	require.NoError(t, err)
	require.NotNil(t, sender)

	resp, err := sender.Send(context.Background(), []byte("world"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello, world"), resp)
}

// TestPeerRequestTimesOutWhenHandlerNeverResponds covers spec.md §8
// scenario 3: a registered handler that never returns causes the caller's
// Request to expire via its own context deadline rather than hang forever.
func TestPeerRequestTimesOutWhenHandlerNeverResponds(t *testing.T) {
	alice := newTestPeer(t, "alice-slow")
	bob := newTestPeer(t, "bob-slow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alice.Run(ctx)
	go bob.Run(ctx)

	actor := wire.Numeric(1)
	msgType := wire.MessageTypeID("slow")

	block := make(chan struct{})
	defer close(block)
	bob.Register(actor, msgType, func(ctx context.Context, data []byte) ([]byte, error) {
		<-block
		return data, nil
	})

	require.NoError(t, alice.AddPeer(context.Background(), bob.Addr()))

	sender, err := alice.GetActor(context.Background(), Identifier{Kind: ForeignNumeric, Peer: "bob-slow", Number: 1}, msgType)
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer reqCancel()
	_, err = sender.Send(reqCtx, []byte("ping"))
	require.Error(t, err)
}

// TestPeerAddPeerFailsOnNameCollision covers spec.md §8 scenario 4: a node
// whose local name collides with one already present in the peer table it
// is dialing into is refused the handshake.
func TestPeerAddPeerFailsOnNameCollision(t *testing.T) {
	host := newTestPeer(t, "host")
	dup1 := newTestPeer(t, "dup")
	dup2 := newTestPeer(t, "dup")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Run(ctx)

	require.NoError(t, dup1.AddPeer(context.Background(), host.Addr()))
	time.Sleep(50 * time.Millisecond)

	err := dup2.AddPeer(context.Background(), host.Addr())
	require.Error(t, err)
}
