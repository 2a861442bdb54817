// Package palantir implements the PALANTIR peer-to-peer networking core: a
// mutual handshake, a length-prefixed framed message codec, a
// request/response channel multiplexer, and an actor-routing delegate,
// riding on QUIC bidirectional streams.
package palantir

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
	"github.com/quic-go/quic-go"

	"github.com/Peperworx/palantir/wire"
	"github.com/Peperworx/palantir/worker"
)

// newConnTraceID generates a short per-connection identifier carried in the
// "conn" log field through a connection's admission and handshake (in
// AddPeer and handleInbound), so those log lines can be correlated without
// threading the QUIC connection itself through every log call.
// connectionLoop logs by peer name and does not carry this id.
func newConnTraceID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// connHandle is the peer table's stored value: a connection is read-only
// once established and shared by many tasks via this one value, never
// mutably aliased, per spec.md §3/§9 "Connection handle sharing". Go's GC
// makes the Rust original's explicit refcounting unnecessary — every task
// that needs a Connection just holds this pointer.
type connHandle struct {
	conn  quic.Connection
	name  string
	state any
}

// PeerName returns the remote counterparty's declared name.
func (h *connHandle) PeerName() string { return h.name }

// RemoteAddr returns the remote endpoint's network address.
func (h *connHandle) RemoteAddr() string { return h.conn.RemoteAddr().String() }

// ValidatorState returns the Validator state created for this connection
// during its handshake (CreateNewState's return value), kept reachable for
// the rest of the connection's life rather than discarded once the
// handshake completes — so a Validator implementation that wants to
// inspect connection-lifetime state (e.g. a rate limiter) on a later
// per-stream admission hook can do so.
func (h *connHandle) ValidatorState() any { return h.state }

// Connection looks up the established connection handle for a peer name,
// for callers that want to inspect RemoteAddr or ValidatorState outside
// the request/response path.
func (p *Peer) Connection(name string) (*connHandle, bool) {
	return p.lookupPeer(name)
}

// NewConnectionFunc is invoked after a successful inbound or outbound
// handshake, once the peer's name has been inserted into the peer table.
type NewConnectionFunc func(peerName string)

// Peer is one PALANTIR node: it listens for inbound connections, dials
// outbound ones, runs the handshake on each, maintains the peer table, and
// hosts a Delegate for actor routing. It is the top-level type spec.md §6
// calls "a node" and §4.5 "the peer/connection manager".
type Peer struct {
	worker.Worker

	name           string
	validator      Validator
	requestTimeout time.Duration

	transport *Transport
	clientTLS *tls.Config

	delegate *Delegate
	metrics  *Metrics
	log      *log.Logger

	mu    sync.RWMutex
	peers map[string]*connHandle

	channelsMu sync.Mutex
	channels   []*Channel

	callbacksMu sync.Mutex
	callbacks   []NewConnectionFunc
}

// Option configures a Peer at construction time.
type Option func(*peerConfig)

type peerConfig struct {
	requestTimeout time.Duration
	inboxCapacity  int
	serverTLS      *tls.Config
	clientTLS      *tls.Config
	metrics        *Metrics
}

// WithRequestTimeout overrides DefaultRequestTimeout for every Channel
// this Peer opens or accepts.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *peerConfig) { c.requestTimeout = d }
}

// WithInboxCapacity overrides DefaultInboxCapacity for the Peer's
// Delegate.
func WithInboxCapacity(n int) Option {
	return func(c *peerConfig) { c.inboxCapacity = n }
}

// WithTLSConfig supplies explicit server and client TLS configurations
// instead of the self-signed localhost identity certs.go generates by
// default.
func WithTLSConfig(server, client *tls.Config) Option {
	return func(c *peerConfig) {
		c.serverTLS = server
		c.clientTLS = client
	}
}

// WithMetrics registers this Peer's counters and gauges on m instead of a
// fresh private registry.
func WithMetrics(m *Metrics) Option {
	return func(c *peerConfig) { c.metrics = m }
}

// New constructs a Peer bound to listenAddr (host:port), identified by
// name, admitting connections per validator, per spec.md §6's "new(port,
// name, validator)".
func New(listenAddr, name string, validator Validator, opts ...Option) (*Peer, error) {
	cfg := peerConfig{
		requestTimeout: DefaultRequestTimeout,
		inboxCapacity:  DefaultInboxCapacity,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.serverTLS == nil {
		serverTLS, err := SelfSignedServerTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("palantir: generating self-signed identity: %w", err)
		}
		cfg.serverTLS = serverTLS
	}
	if cfg.clientTLS == nil {
		cfg.clientTLS = InsecureClientTLSConfig()
	}
	if cfg.metrics == nil {
		cfg.metrics = NewMetrics()
	}

	transport, err := Listen(listenAddr, cfg.serverTLS)
	if err != nil {
		return nil, fmt.Errorf("palantir: listen on %s: %w", listenAddr, err)
	}

	p := &Peer{
		name:           name,
		validator:      validator,
		requestTimeout: cfg.requestTimeout,
		transport:      transport,
		clientTLS:      cfg.clientTLS,
		metrics:        cfg.metrics,
		log:            log.NewWithOptions(os.Stderr, log.Options{Prefix: "peer " + name}),
		peers:          make(map[string]*connHandle),
	}
	p.delegate = NewDelegate(p, cfg.inboxCapacity)
	return p, nil
}

// trackChannel registers ch so Close can halt it along with every other
// task this Peer owns; a Channel otherwise runs independently of Peer's
// own worker.Worker.
func (p *Peer) trackChannel(ch *Channel) *Channel {
	ch.SetMetrics(p.metrics)
	p.channelsMu.Lock()
	p.channels = append(p.channels, ch)
	p.channelsMu.Unlock()
	return ch
}

// Name returns this node's own peer name.
func (p *Peer) Name() string { return p.name }

// Addr reports the local UDP address this Peer listens on.
func (p *Peer) Addr() string { return p.transport.Addr() }

// OnNewConnection registers cb to run after every successful handshake,
// inbound or outbound, per spec.md §6.
func (p *Peer) OnNewConnection(cb NewConnectionFunc) {
	p.callbacksMu.Lock()
	defer p.callbacksMu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

func (p *Peer) fireCallbacks(peerName string) {
	p.callbacksMu.Lock()
	cbs := make([]NewConnectionFunc, len(p.callbacks))
	copy(cbs, p.callbacks)
	p.callbacksMu.Unlock()

	for _, cb := range cbs {
		cb(peerName)
	}
}

// isNameTaken reports whether name is empty or already present in the
// peer table. It is the NameChecker passed to both handshake directions,
// per spec.md §4.4's "name-uniqueness check... under the peer table
// lock". It also stands in for §4.5's pre-handshake "reject if empty or
// duplicate" / validate_session_request hook: this module's QUIC
// transport has no separate WebTransport session-header phase, so that
// admission point collapses into this check plus the
// ValidateIncomingSession call already made before the handshake stream is
// even accepted.
func (p *Peer) isNameTaken(name string) bool {
	if name == "" {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.peers[name]
	return ok
}

func (p *Peer) insertPeer(name string, conn quic.Connection, state any) {
	p.mu.Lock()
	p.peers[name] = &connHandle{conn: conn, name: name, state: state}
	p.mu.Unlock()
	p.metrics.ActivePeers.Set(float64(p.peerCount()))
}

func (p *Peer) removePeer(name string) {
	p.mu.Lock()
	delete(p.peers, name)
	p.mu.Unlock()
	p.metrics.ActivePeers.Set(float64(p.peerCount()))
}

func (p *Peer) peerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}

// lookupPeer clones the connHandle pointer under the peer table's
// read-lock and releases the lock immediately, per spec.md §5's "readers
// clone the Connection handle then release the guard before awaiting".
func (p *Peer) lookupPeer(name string) (*connHandle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.peers[name]
	return h, ok
}

// AddPeer dials addr, runs the handshake as the initiator, and on success
// inserts the counterparty into the peer table and starts its
// per-connection accept loop, per spec.md §4.5 "Dial" and §6 "add_peer".
func (p *Peer) AddPeer(ctx context.Context, addr string) error {
	connID := newConnTraceID()
	conn, err := Dial(ctx, addr, p.clientTLS)
	if err != nil {
		return err
	}

	stream, err := openBidiStream(ctx, conn)
	if err != nil {
		conn.CloseWithError(0, "failed to open handshake stream")
		return err
	}
	framed := wire.NewFramed(stream)
	p.metrics.HandshakesAttempted.Inc()
	p.log.Debug("dialing peer", "conn", connID, "addr", addr)

	peerName, state, err := ClientHandshake(ctx, framed, p.name, p.validator, p.isNameTaken)
	if err != nil {
		p.metrics.HandshakesFailed.Inc()
		conn.CloseWithError(1, "handshake failed")
		return err
	}
	framed.Close()
	p.metrics.HandshakesSucceeded.Inc()
	p.log.Debug("handshake succeeded", "conn", connID, "peer", peerName)

	p.insertPeer(peerName, conn, state)
	p.fireCallbacks(peerName)
	p.Go(func() { p.connectionLoop(conn, peerName) })
	return nil
}

// Run starts accepting inbound QUIC sessions until ctx is done or the
// transport reports a fatal error, per spec.md §4.5/§6 "run(system)"
// ("completes only on fatal endpoint error").
func (p *Peer) Run(ctx context.Context) error {
	for {
		conn, err := p.transport.Accept(ctx)
		if err != nil {
			select {
			case <-p.HaltCh():
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("accept failed, endpoint is no longer usable", "err", err)
			return err
		}
		p.Go(func() { p.handleInbound(ctx, conn) })
	}
}

func (p *Peer) handleInbound(ctx context.Context, conn quic.Connection) {
	connID := newConnTraceID()
	session := &IncomingSession{RemoteAddr: conn.RemoteAddr().String()}
	if _, ok := p.validator.ValidateIncomingSession(session); !ok {
		p.log.Debug("incoming session refused by validator", "conn", connID, "remote", session.RemoteAddr)
		conn.CloseWithError(2, "session refused")
		return
	}

	stream, err := acceptBidiStream(ctx, conn)
	if err != nil {
		p.log.Warn("failed to accept handshake stream", "conn", connID, "err", err)
		return
	}
	framed := wire.NewFramed(stream)
	p.metrics.HandshakesAttempted.Inc()

	peerName, state, err := ServerHandshake(ctx, framed, p.name, p.validator, p.isNameTaken)
	if err != nil {
		p.metrics.HandshakesFailed.Inc()
		p.log.Warn("handshake failed", "conn", connID, "err", err)
		conn.CloseWithError(1, "handshake failed")
		return
	}
	framed.Close()
	p.metrics.HandshakesSucceeded.Inc()
	p.log.Debug("handshake succeeded", "conn", connID, "peer", peerName)

	p.insertPeer(peerName, conn, state)
	p.fireCallbacks(peerName)
	p.connectionLoop(conn, peerName)
}

// connectionLoop accepts bidirectional streams on an established
// connection for the rest of its life: each becomes a Channel wired to
// the Delegate's inbound dispatch, per spec.md §4.5 "per-connection task".
func (p *Peer) connectionLoop(conn quic.Connection, peerName string) {
	defer p.removePeer(peerName)
	for {
		select {
		case <-p.HaltCh():
			return
		default:
		}

		stream, err := acceptBidiStream(context.Background(), conn)
		if err != nil {
			p.log.Debug("connection loop ending", "peer", peerName, "err", err)
			return
		}

		var ch *Channel
		ch = p.trackChannel(NewChannel(stream, p.requestTimeout, func(id wire.RequestID, data []byte) {
			p.delegate.DispatchEnvelope(data, func(resp []byte) {
				_ = ch.Respond(id, resp)
			})
		}))
	}
}

// OpenChannel implements ChannelOpener: it opens a fresh bidirectional
// stream on the named peer's connection and wraps it as a Channel, per
// spec.md §4.7's abstraction layer.
func (p *Peer) OpenChannel(ctx context.Context, peer string, actor wire.ActorID, msgType wire.MessageTypeID) (*Channel, error) {
	h, ok := p.lookupPeer(peer)
	if !ok {
		return nil, newRouterError(RouterUnknownPeer, peer, nil)
	}

	stream, err := openBidiStream(ctx, h.conn)
	if err != nil {
		return nil, newRouterError(RouterSendFailed, peer, err)
	}
	return p.trackChannel(NewChannel(stream, p.requestTimeout, nil)), nil
}

// Register attaches a local handler for (actor, msgType), per spec.md §6
// "register(actor_ref)".
func (p *Peer) Register(actor wire.ActorID, msgType wire.MessageTypeID, handler Handler) {
	p.delegate.Register(actor, msgType, handler)
}

// GetActor returns a typed sender for a foreign actor, per spec.md §6
// "get_actor(identifier)".
func (p *Peer) GetActor(ctx context.Context, id Identifier, msgType wire.MessageTypeID) (MessageSender, error) {
	return p.delegate.GetActor(ctx, id, msgType)
}

// Close halts every task this Peer owns — the accept loop, every
// connection loop, every channel run-loop, every delegate handler task —
// and stops the transport, per spec.md §4.5 "task ownership" / §5
// "dropping the node aborts every owned task".
func (p *Peer) Close() error {
	p.Halt()

	p.channelsMu.Lock()
	channels := p.channels
	p.channels = nil
	p.channelsMu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}

	p.delegate.Close()
	err := p.transport.Close()
	p.Wait()
	return err
}
