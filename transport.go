package palantir

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/quic-go/quic-go"

	"github.com/Peperworx/palantir/wire"
)

// defaultQUICConfig is shared by every Listen/Dial call; keepalives keep a
// long-lived peer connection from being reclaimed by idle NAT state.
func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  2 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	}
}

// Transport listens for inbound QUIC sessions on one UDP endpoint, per
// spec.md §4.5's "bind a server endpoint on the configured UDP port".
// Grounded on sockatz/common/conn.go's QUICProxyConn.Accept, simplified to
// a plain net.ListenUDP-backed quic.Listener since this module dials real
// UDP endpoints rather than proxying packets through a custom
// net.PacketConn.
type Transport struct {
	listener *quic.Listener
	log      *log.Logger
}

// Listen binds a QUIC listener on addr (host:port) using tlsConf for the
// server identity.
func Listen(addr string, tlsConf *tls.Config) (*Transport, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, defaultQUICConfig())
	if err != nil {
		return nil, err
	}
	return &Transport{
		listener: ln,
		log:      log.NewWithOptions(os.Stderr, log.Options{Prefix: "transport"}),
	}, nil
}

// Accept blocks until an inbound QUIC session is established, or ctx is
// done.
func (t *Transport) Accept(ctx context.Context) (quic.Connection, error) {
	return t.listener.Accept(ctx)
}

// Addr reports the local UDP address this Transport is bound to.
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

// Close stops accepting new sessions.
func (t *Transport) Close() error {
	return t.listener.Close()
}

// Dial establishes an outbound QUIC session to addr (host:port) using
// tlsConf as the client's TLS policy, per spec.md §4.5 "build a client
// endpoint with the configured TLS policy".
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (quic.Connection, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, defaultQUICConfig())
	if err != nil {
		return nil, newConnectError(addr, "dial %s: %w", addr, err)
	}
	return conn, nil
}

// openBidiStream opens a new bidirectional stream on conn for use as a
// framed wire.Stream (a handshake stream, or a channel's underlying
// stream).
func openBidiStream(ctx context.Context, conn quic.Connection) (wire.Stream, error) {
	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, wire.NewTransportError(err)
	}
	return s, nil
}

// acceptBidiStream blocks until the remote side of conn opens a new
// bidirectional stream.
func acceptBidiStream(ctx context.Context, conn quic.Connection) (wire.Stream, error) {
	s, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, wire.NewTransportError(err)
	}
	return s, nil
}
