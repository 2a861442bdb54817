package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHaltStopsGoroutines(t *testing.T) {
	var w Worker
	started := make(chan struct{})
	stopped := make(chan struct{})

	w.Go(func() {
		close(started)
		<-w.HaltCh()
		close(stopped)
	})

	<-started
	require.False(t, w.IsHalted())

	w.Halt()
	w.Wait()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not observe halt")
	}
	require.True(t, w.IsHalted())
}

func TestWorkerHaltIsIdempotent(t *testing.T) {
	var w Worker
	w.Go(func() { <-w.HaltCh() })
	w.Halt()
	w.Halt()
	w.Wait()
}

func TestWorkerWaitsForMultipleGoroutines(t *testing.T) {
	var w Worker
	const n = 8
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		w.Go(func() {
			<-w.HaltCh()
			done <- struct{}{}
		})
	}
	w.Halt()
	w.Wait()
	require.Len(t, done, n)
}
