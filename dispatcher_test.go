package moneybox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeWorker tracks lifecycle calls for dispatcher tests.
type fakeWorker struct {
	name     string
	started  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}
}

func newFakeWorker(name string) *fakeWorker {
	return &fakeWorker{name: name, stopChan: make(chan struct{})}
}

func (w *fakeWorker) Start(ctx context.Context) {
	w.started.Store(true)
	select {
	case <-ctx.Done():
	case <-w.stopChan:
	}
}

func (w *fakeWorker) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stopChan)
	}
}

func (w *fakeWorker) Name() string { return w.name }

func TestDispatcher_StartAndStop(t *testing.T) {
	w1 := newFakeWorker("first")
	w2 := newFakeWorker("second")
	dispatcher := NewDispatcher(zap.NewNop(), w1, w2)

	done := make(chan struct{})
	go func() {
		dispatcher.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return w1.started.Load() && w2.started.Load()
	}, time.Second, 5*time.Millisecond)
	assert.True(t, dispatcher.IsStarted())

	dispatcher.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop in time")
	}

	assert.True(t, w1.stopped.Load())
	assert.True(t, w2.stopped.Load())
	assert.False(t, dispatcher.IsStarted())
}

func TestDispatcher_ContextCancellationStopsWorkers(t *testing.T) {
	worker := newFakeWorker("only")
	dispatcher := NewDispatcher(zap.NewNop(), worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return worker.started.Load()
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not react to context cancellation")
	}
	assert.True(t, worker.stopped.Load())
}

func TestDispatcher_StopWithoutStart(t *testing.T) {
	dispatcher := NewDispatcher(zap.NewNop(), newFakeWorker("idle"))

	assert.NotPanics(t, func() {
		dispatcher.Stop()
	})
	assert.False(t, dispatcher.IsStarted())
}

func TestDispatcher_DoubleStartIsNoop(t *testing.T) {
	worker := newFakeWorker("only")
	dispatcher := NewDispatcher(zap.NewNop(), worker)

	go dispatcher.Start(context.Background())
	assert.Eventually(t, dispatcher.IsStarted, time.Second, 5*time.Millisecond)

	// The second Start returns immediately instead of spawning workers again.
	startDone := make(chan struct{})
	go func() {
		dispatcher.Start(context.Background())
		close(startDone)
	}()

	select {
	case <-startDone:
	case <-time.After(time.Second):
		t.Fatal("second Start did not return")
	}

	dispatcher.Stop()
}
