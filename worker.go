package moneybox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a periodic background task managed by the Dispatcher.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// BaseWorker runs a work function on an interval and handles graceful
// shutdown. The interval is a delay between completed iterations, not a
// fixed-rate tick: the next run starts interval after the previous work
// finished, so a slow downstream can never cause overlapping runs or a
// backlog of pending ticks.
type BaseWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	workFunc func(ctx context.Context) error

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewBaseWorker creates a new generic worker.
func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, workFunc func(ctx context.Context) error) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
	}
}

// Start begins the worker's execution loop.
// It blocks until the worker is stopped via the context or a call to Stop().
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("name", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker starting", zap.String("name", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker finished", zap.String("name", w.name))

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Context cancelled, worker stopping", zap.String("name", w.name))
			return
		case <-w.stopChan:
			w.logger.Info("Stop signal received, worker stopping", zap.String("name", w.name))
			return
		case <-timer.C:
			// Non-blocking check so a Stop() racing with the timer wins.
			select {
			case <-w.stopChan:
				return
			default:
			}
			w.executeWorkFunc(ctx)
			// Re-arm only after the work is done: the interval measures the
			// gap between iterations, not their start times.
			timer.Reset(w.interval)
		}
	}
}

// executeWorkFunc runs the worker's function, ensuring that Stop() will wait for it to complete.
func (w *BaseWorker) executeWorkFunc(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	if err := w.workFunc(ctx); err != nil {
		w.logger.Error("Worker function failed", zap.String("name", w.name), zap.Error(err))
	}
}

// Stop gracefully shuts down the worker.
// It stops the loop and waits for any in-progress work to complete.
// It is safe to call Stop multiple times.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		if !w.started {
			return
		}

		close(w.stopChan)

		// Wait for the last execution of workFunc to complete.
		w.wg.Wait()
	})
}

// Name returns the name of the worker.
func (w *BaseWorker) Name() string {
	return w.name
}
