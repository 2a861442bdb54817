package palantir

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Peperworx/palantir/wire"
)

// pipeOpener hands out Channels built over net.Pipe() pairs, counting how
// many times OpenChannel was called (across all triples) so tests can
// assert on caching behavior. The remote side of every opened pipe unwraps
// the routedEnvelope a channelSender wraps every request in and echoes the
// inner body back reversed, mirroring what a Peer's accept path plus
// Delegate.DispatchEnvelope would do for a real connection.
type pipeOpener struct {
	mu    sync.Mutex
	opens int
}

func (p *pipeOpener) OpenChannel(ctx context.Context, peer string, actor wire.ActorID, msgType wire.MessageTypeID) (*Channel, error) {
	p.mu.Lock()
	p.opens++
	p.mu.Unlock()

	a, b := net.Pipe()
	var remote *Channel
	remote = NewChannel(b, time.Second, func(id wire.RequestID, data []byte) {
		env, err := unmarshalRoutedEnvelope(data)
		if err != nil {
			return
		}
		reversed := make([]byte, len(env.Body))
		for i, v := range env.Body {
			reversed[len(env.Body)-1-i] = v
		}
		_ = remote.Respond(id, reversed)
	})
	local := NewChannel(a, time.Second, nil)
	return local, nil
}

func TestDelegateGetActorRejectsLocalIdentifier(t *testing.T) {
	d := NewDelegate(&pipeOpener{}, 0)
	defer d.Close()

	sender, err := d.GetActor(context.Background(), Identifier{Kind: LocalNumeric, Number: 1}, "ping")
	require.NoError(t, err)
	require.Nil(t, sender)
}

func TestDelegateGetActorOpensAndCachesChannel(t *testing.T) {
	opener := &pipeOpener{}
	d := NewDelegate(opener, 0)
	defer d.Close()

	id := Identifier{Kind: ForeignNumeric, Peer: "b", Number: 7}

	sender1, err := d.GetActor(context.Background(), id, "ping")
	require.NoError(t, err)
	require.NotNil(t, sender1)

	sender2, err := d.GetActor(context.Background(), id, "ping")
	require.NoError(t, err)
	require.Same(t, sender1, sender2)

	opener.mu.Lock()
	defer opener.mu.Unlock()
	require.Equal(t, 1, opener.opens)
}

func TestDelegateGetActorSendRoundTrip(t *testing.T) {
	opener := &pipeOpener{}
	d := NewDelegate(opener, 0)
	defer d.Close()

	id := Identifier{Kind: ForeignNumeric, Peer: "b", Number: 7}
	sender, err := d.GetActor(context.Background(), id, "ping")
	require.NoError(t, err)

	resp, err := sender.Send(context.Background(), []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Equal(t, []byte{0x03, 0x02, 0x01}, resp)
}

func TestDelegateRegisterDispatchesAndReplies(t *testing.T) {
	d := NewDelegate(&pipeOpener{}, 0)
	defer d.Close()

	actor := wire.Numeric(7)
	d.Register(actor, "ping", func(ctx context.Context, data []byte) ([]byte, error) {
		reversed := make([]byte, len(data))
		for i, b := range data {
			reversed[len(data)-1-i] = b
		}
		return reversed, nil
	})

	replied := make(chan []byte, 1)
	d.Dispatch(actor, "ping", []byte{0x01, 0x02, 0x03}, func(data []byte) {
		replied <- data
	})

	select {
	case data := <-replied:
		require.Equal(t, []byte{0x03, 0x02, 0x01}, data)
	case <-time.After(time.Second):
		t.Fatal("handler never replied")
	}
}

func TestDelegateDispatchDropsOnMissingRegistration(t *testing.T) {
	d := NewDelegate(&pipeOpener{}, 0)
	defer d.Close()

	called := false
	d.Dispatch(wire.Numeric(99), "unknown", []byte("x"), func([]byte) { called = true })
	require.False(t, called)
}

func TestDelegateHandlerErrorDropsSilently(t *testing.T) {
	d := NewDelegate(&pipeOpener{}, 0)
	defer d.Close()

	actor := wire.Named("actor")
	d.Register(actor, "typeA", func(ctx context.Context, data []byte) ([]byte, error) {
		return nil, errors.New("undecodable")
	})

	called := false
	d.Dispatch(actor, "typeA", []byte("garbage"), func([]byte) { called = true })

	time.Sleep(20 * time.Millisecond)
	require.False(t, called)
}
