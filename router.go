package palantir

import (
	"context"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"

	"github.com/Peperworx/palantir/wire"
	"github.com/Peperworx/palantir/worker"
)

// DefaultInboxCapacity bounds how many undelivered inbound requests a
// single (actor, message-type) registration will buffer before new
// requests are dropped, per spec.md §4.7 ("capacity 256 suggested").
const DefaultInboxCapacity = 256

// IdentifierKind discriminates the four ways the hosting runtime may name
// an actor, per spec.md §3.
type IdentifierKind uint8

const (
	LocalNumeric IdentifierKind = iota
	LocalNamed
	ForeignNumeric
	ForeignNamed
)

// Identifier is the runtime-supplied actor reference the router narrows
// down to a wire.ActorID plus a target peer name, or rejects as local.
type Identifier struct {
	Kind   IdentifierKind
	Peer   string
	Number uint64
	Name   string
}

func (id Identifier) narrow() (actor wire.ActorID, peer string, local bool) {
	switch id.Kind {
	case LocalNumeric:
		return wire.Numeric(id.Number), "", true
	case LocalNamed:
		return wire.Named(id.Name), "", true
	case ForeignNumeric:
		return wire.Numeric(id.Number), id.Peer, false
	case ForeignNamed:
		return wire.Named(id.Name), id.Peer, false
	default:
		return wire.ActorID{}, "", true
	}
}

// Handler processes one deserialized-by-the-caller inbound request and
// returns the serialized response to send back. Returning a non-nil error
// drops the request silently (no Response frame is ever sent) — the
// generic case covers both undecodable payloads (version skew, per
// spec.md §9) and any other handling failure; the caller on the other end
// simply observes a timeout.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// InboundRequest is the in-process pairing of opaque request bytes with
// the means to reply exactly once, per spec.md §3 ("Request (in-process)").
type InboundRequest struct {
	Data    []byte
	respond func([]byte)
	once    sync.Once
}

// Respond delivers data as the reply to this request. Calling it more than
// once has no additional effect beyond the first call.
func (r *InboundRequest) Respond(data []byte) {
	r.once.Do(func() { r.respond(data) })
}

// MessageSender is the polymorphic outbound handle GetActor returns: send
// serialized bytes, get serialized bytes back. It exists so the router can
// hand callers a handle that behaves the same regardless of message type,
// per spec.md §9 "dynamic dispatch for outbound senders".
type MessageSender interface {
	Send(ctx context.Context, data []byte) ([]byte, error)
}

// routedEnvelope is how a channelSender addresses a Request to a specific
// (actor, msgType) pair on the other end. A Channel's wire.Request itself
// (§4.6) carries only opaque bytes with no addressing fields, since a
// channel is opened per §4.7's (peer, actor, message-type) triple — but
// the accepting side has no way to learn which triple a freshly-accepted
// stream is for without some addressing carried in-band, and spec.md §4.6
// fixes the wire enumeration closed. routedEnvelope resolves this inside
// the opaque data payload instead of adding a wire variant: every
// channelSender wraps its caller's bytes in one before calling
// Channel.Request, and Peer's per-connection accept path unwraps it before
// handing the inner bytes to Delegate.Dispatch. Responses need no such
// wrapping, since the id already correlates them to the right channel and
// sender.
type routedEnvelope struct {
	Actor   wire.ActorID       `cbor:"0,keyasint"`
	MsgType wire.MessageTypeID `cbor:"1,keyasint"`
	Body    []byte             `cbor:"2,keyasint"`
}

func marshalRoutedEnvelope(actor wire.ActorID, msgType wire.MessageTypeID, body []byte) ([]byte, error) {
	return cbor.Marshal(routedEnvelope{Actor: actor, MsgType: msgType, Body: body})
}

func unmarshalRoutedEnvelope(data []byte) (routedEnvelope, error) {
	var env routedEnvelope
	err := cbor.Unmarshal(data, &env)
	return env, err
}

type channelSender struct {
	ch      *Channel
	actor   wire.ActorID
	msgType wire.MessageTypeID
}

func (s *channelSender) Send(ctx context.Context, data []byte) ([]byte, error) {
	envelope, err := marshalRoutedEnvelope(s.actor, s.msgType, data)
	if err != nil {
		return nil, err
	}
	return s.ch.Request(ctx, envelope)
}

// ChannelOpener is the abstraction layer spec.md §4.7 calls for, so the
// router can be used standalone or over alternative backends: given a
// peer name, actor, and message type, produce (or reuse) a Channel request
// response multiplexer addressed to that triple. Peer is the concrete,
// QUIC-backed implementation.
type ChannelOpener interface {
	OpenChannel(ctx context.Context, peer string, actor wire.ActorID, msgType wire.MessageTypeID) (*Channel, error)
}

type handlerKey struct {
	actor   wire.ActorID
	msgType wire.MessageTypeID
}

type senderKey struct {
	peer    string
	actor   wire.ActorID
	msgType wire.MessageTypeID
}

// Delegate is the actor routing layer, per spec.md §4.7: it maps foreign
// actor identifiers to message-type-specific local handler tasks,
// dispatches inbound requests to them, and produces cached outbound
// MessageSenders backed by Channels opened through a ChannelOpener.
type Delegate struct {
	worker.Worker

	opener        ChannelOpener
	inboxCapacity int
	log           *log.Logger

	mu      sync.RWMutex
	inboxes map[handlerKey]chan *InboundRequest
	senders map[senderKey]MessageSender
}

// NewDelegate creates a Delegate that opens outbound channels through
// opener. inboxCapacity <= 0 uses DefaultInboxCapacity.
func NewDelegate(opener ChannelOpener, inboxCapacity int) *Delegate {
	if inboxCapacity <= 0 {
		inboxCapacity = DefaultInboxCapacity
	}
	return &Delegate{
		opener:        opener,
		inboxCapacity: inboxCapacity,
		log:           log.NewWithOptions(os.Stderr, log.Options{Prefix: "router"}),
		inboxes:       make(map[handlerKey]chan *InboundRequest),
		senders:       make(map[senderKey]MessageSender),
	}
}

// Register creates a bounded inbox for (actor, msgType) and spawns a task
// that dispatches every inbound request arriving on it to handler, one
// subtask per request so a slow handler never head-of-line blocks the
// inbox, per spec.md §4.7.
func (d *Delegate) Register(actor wire.ActorID, msgType wire.MessageTypeID, handler Handler) {
	key := handlerKey{actor: actor, msgType: msgType}
	inbox := make(chan *InboundRequest, d.inboxCapacity)

	d.mu.Lock()
	d.inboxes[key] = inbox
	d.mu.Unlock()

	d.Go(func() { d.runHandler(key, inbox, handler) })
}

func (d *Delegate) runHandler(key handlerKey, inbox chan *InboundRequest, handler Handler) {
	for {
		select {
		case <-d.HaltCh():
			return
		case req := <-inbox:
			req := req
			d.Go(func() { d.handleOne(key, req, handler) })
		}
	}
}

func (d *Delegate) handleOne(key handlerKey, req *InboundRequest, handler Handler) {
	resp, err := handler(context.Background(), req.Data)
	if err != nil {
		d.log.Debug("dropping request", "actor", key.actor, "messageType", key.msgType, "err", err)
		return
	}
	req.Respond(resp)
}

// Dispatch routes one inbound Request frame observed on some connection's
// accept-loop path to the registration matching (actor, msgType), or drops
// it silently if nothing is registered there — the sender's channel-side
// timeout is what a missing registration looks like to the caller, per
// spec.md §4.7.
func (d *Delegate) Dispatch(actor wire.ActorID, msgType wire.MessageTypeID, data []byte, respond func([]byte)) {
	d.mu.RLock()
	inbox, ok := d.inboxes[handlerKey{actor: actor, msgType: msgType}]
	d.mu.RUnlock()
	if !ok {
		d.log.Debug("no registration for inbound request", "actor", actor, "messageType", msgType)
		return
	}

	select {
	case inbox <- &InboundRequest{Data: data, respond: respond}:
	default:
		d.log.Warn("inbox full, dropping request", "actor", actor, "messageType", msgType)
	}
}

// GetActor narrows id and, if it names a foreign actor, returns a
// MessageSender for (peer, actor, msgType) — opening a new Channel through
// the ChannelOpener on first use and reusing it on every later call for the
// same triple (spec.md §9's open question, resolved in favor of caching;
// see DESIGN.md). A local identifier returns (nil, nil) per §4.7.
func (d *Delegate) GetActor(ctx context.Context, id Identifier, msgType wire.MessageTypeID) (MessageSender, error) {
	actor, peer, local := id.narrow()
	if local {
		return nil, nil
	}
	key := senderKey{peer: peer, actor: actor, msgType: msgType}

	d.mu.RLock()
	sender, ok := d.senders[key]
	d.mu.RUnlock()
	if ok {
		return sender, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if sender, ok := d.senders[key]; ok {
		return sender, nil
	}

	ch, err := d.opener.OpenChannel(ctx, peer, actor, msgType)
	if err != nil {
		return nil, newRouterError(RouterSendFailed, peer, err)
	}
	sender = &channelSender{ch: ch, actor: actor, msgType: msgType}
	d.senders[key] = sender
	return sender, nil
}

// DispatchEnvelope unwraps a routedEnvelope-encoded Request payload (see
// routedEnvelope) and forwards the inner body to Dispatch. It is what a
// Peer's per-connection accept path calls from a Channel's RequestHandler
// for every non-handshake stream. A payload that fails to decode as a
// routedEnvelope is dropped silently, the same as any other undecodable
// inbound frame.
func (d *Delegate) DispatchEnvelope(data []byte, respond func([]byte)) {
	env, err := unmarshalRoutedEnvelope(data)
	if err != nil {
		d.log.Debug("dropping request with unroutable envelope", "err", err)
		return
	}
	d.Dispatch(env.Actor, env.MsgType, env.Body, respond)
}

// Close halts every registration's dispatch task.
func (d *Delegate) Close() {
	d.Halt()
	d.Wait()
}
