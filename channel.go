package palantir

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Peperworx/palantir/timeout"
	"github.com/Peperworx/palantir/wire"
	"github.com/Peperworx/palantir/worker"
)

// consecutiveErrorThreshold is how many decode/transport errors in a row a
// Channel's run-loop tolerates before assuming the stream is lost and
// terminating, per spec.md §4.3/§5.
const consecutiveErrorThreshold = 5

// DefaultRequestTimeout is the registry timeout NewChannel uses when given a
// non-positive requestTimeout. It bounds every Request on that Channel,
// whether or not the caller's context carries a deadline of its own.
const DefaultRequestTimeout = 30 * time.Second

// RequestHandler is invoked by a Channel's run-loop whenever an inbound
// Request frame arrives on the stream it owns — it does not correlate to
// any pending local request, so it is handed to this handler instead (a
// Peer's handler unwraps the routedEnvelope it carries and dispatches it to
// the matching local registration). It must eventually call Respond
// (directly, or by handing the request off to an inbox reader) or the
// caller on the other end will simply time out.
type RequestHandler func(id wire.RequestID, data []byte)

// Channel owns the send half of one bidirectional stream plus a shared
// timeout registry, and multiplexes many concurrent request/response
// exchanges over it per spec.md §4.3.
type Channel struct {
	worker.Worker

	framed   *wire.Framed
	sendMu   sync.Mutex // serializes frame writes; wire.SendFramed is not safe for concurrent use
	registry *timeout.Registry
	onReq    RequestHandler
	log      *log.Logger
	metrics  *Metrics
}

// SetMetrics attaches m so this Channel records request/timeout/
// termination counts on it. Safe to call once, before any concurrent use
// of the Channel begins (the constructors in this module call it
// immediately after NewChannel, before handing the Channel to anything
// else).
func (c *Channel) SetMetrics(m *Metrics) {
	c.metrics = m
}

// NewChannel wraps stream as a Channel. onRequest is invoked for every
// inbound Request frame the run-loop observes; it may be nil if this
// channel is only ever used to issue outbound requests. The run-loop is
// started immediately and stops when the Channel is closed or the stream
// reports five consecutive errors.
func NewChannel(stream wire.Stream, requestTimeout time.Duration, onRequest RequestHandler) *Channel {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	c := &Channel{
		framed:   wire.NewFramed(stream),
		registry: timeout.New(requestTimeout),
		onReq:    onRequest,
		log:      log.NewWithOptions(os.Stderr, log.Options{Prefix: "channel"}),
	}
	c.Go(func() { c.registry.RunTicker(c.HaltCh()) })
	c.Go(c.runLoop)
	return c
}

// Request sends data as a new Request frame and blocks until either a
// matching Response frame arrives, ctx is done, or the registry's request
// timeout expires — whichever comes first. Writing the Request frame is not
// bounded by ctx or the timeout: that wait starts only once the write has
// completed.
func (c *Channel) Request(ctx context.Context, data []byte) ([]byte, error) {
	respCh, id := c.registry.Add()

	c.sendMu.Lock()
	err := c.framed.Send(wire.Request{ID: wire.RequestID(id), Data: data})
	c.sendMu.Unlock()
	if err != nil {
		c.registry.Deliver(timeout.Key(id), nil)
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RequestsSent.Inc()
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			if c.metrics != nil {
				c.metrics.RequestsTimedOut.Inc()
			}
			return nil, wire.NewTransportError(context.DeadlineExceeded)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.HaltCh():
		return nil, wire.NewTransportError(errChannelClosed)
	}
}

// Respond sends data as a Response frame for a previously-observed inbound
// Request id.
func (c *Channel) Respond(id wire.RequestID, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.framed.Send(wire.Response{ID: id, Data: data})
}

// Close halts the run-loop and closes the underlying stream.
func (c *Channel) Close() error {
	c.Halt()
	err := c.framed.Close()
	c.Wait()
	return err
}

func (c *Channel) runLoop() {
	consecutiveErrors := 0
	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}

		msg, err := c.framed.Recv()
		if err != nil {
			consecutiveErrors++
			c.log.Debug("recv error", "err", err, "consecutive", consecutiveErrors)
			if consecutiveErrors >= consecutiveErrorThreshold {
				c.log.Warn("terminating run-loop after consecutive errors", "count", consecutiveErrors)
				if c.metrics != nil {
					c.metrics.ChannelsTerminated.Inc()
				}
				c.Halt()
				return
			}
			continue
		}
		consecutiveErrors = 0

		switch m := msg.(type) {
		case wire.Response:
			c.registry.Deliver(timeout.Key(m.ID), m.Data)
		case wire.Request:
			if c.onReq != nil {
				c.onReq(m.ID, m.Data)
			}
		default:
			// Any other variant on a request/response channel is discarded
			// rather than treated as a protocol violation: §4.3 only
			// distinguishes Response (correlated) from everything else
			// (routed or ignored).
		}
	}
}
