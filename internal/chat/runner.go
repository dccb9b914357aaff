package chat

import "sync"

// Runner executes work detached from the reply path. The orchestrator
// hands it the history/memory persistence step so store or summarizer
// latency never delays an already-sent reply.
type Runner interface {
	Go(fn func())
}

// AsyncRunner runs each task on its own goroutine and supports
// draining on shutdown.
type AsyncRunner struct {
	wg sync.WaitGroup
}

// NewAsyncRunner creates an AsyncRunner.
func NewAsyncRunner() *AsyncRunner {
	return &AsyncRunner{}
}

// Go starts fn in the background.
func (r *AsyncRunner) Go(fn func()) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Wait blocks until all started tasks have finished.
func (r *AsyncRunner) Wait() {
	r.wg.Wait()
}
