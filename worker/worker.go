// Package worker provides a small embeddable helper for owning the
// lifetime of goroutines spawned by a long-lived component.
//
// Every component in palantir that spawns background goroutines (the
// peer's accept loop, a channel's receive loop, a delegate's per-actor
// handler loop) embeds a Worker instead of rolling its own
// sync.WaitGroup/done-channel pair. Halting a Worker closes its halt
// channel, which every spawned goroutine is expected to select on, and
// Wait blocks until all of them have returned.
package worker

import (
	"sync"
)

// Worker is embedded by value into structs that own one or more
// goroutines. The zero value is ready to use.
type Worker struct {
	initOnce sync.Once
	haltCh   chan struct{}
	haltOnce sync.Once
	wg       sync.WaitGroup
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// Go spawns fn in a new goroutine, tracked by this Worker so that Wait
// will block until it returns.
func (w *Worker) Go(fn func()) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// HaltCh returns the channel that is closed when Halt is called. Every
// goroutine spawned with Go should select on this channel alongside its
// other blocking operations, and return promptly once it is closed.
func (w *Worker) HaltCh() <-chan struct{} {
	w.init()
	return w.haltCh
}

// Halt signals every goroutine spawned with Go to stop, by closing the
// halt channel. Halt does not block; call Wait afterward to block until
// every goroutine has actually returned. Halt is safe to call more than
// once and from multiple goroutines.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Wait blocks until every goroutine spawned with Go has returned. Wait
// does not itself signal anything to stop; call Halt first.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// IsHalted returns true if Halt has been called.
func (w *Worker) IsHalted() bool {
	w.init()
	select {
	case <-w.haltCh:
		return true
	default:
		return false
	}
}
