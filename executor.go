package mcp

import "sync"

// executor schedules inbound units of work on a bounded pool of OS-thread
// backed goroutines. The stdio transport submits one task per input line so
// slow handlers cannot stall the read loop.
type executor struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// newExecutor creates an executor with the given number of workers. A
// non-positive count falls back to a single worker.
func newExecutor(workers int) *executor {
	if workers < 1 {
		workers = 1
	}

	e := &executor{
		tasks: make(chan func(), workers),
	}

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer e.wg.Done()
			for task := range e.tasks {
				task()
			}
		}()
	}

	return e
}

// Submit queues a task for execution, blocking while all workers are busy and
// the queue is full. Submitting after Drain panics.
func (e *executor) Submit(task func()) {
	e.tasks <- task
}

// Drain stops accepting work and blocks until every submitted task has
// finished.
func (e *executor) Drain() {
	e.closeOnce.Do(func() {
		close(e.tasks)
	})
	e.wg.Wait()
}
