// Package gate serializes client-originated mutations. Each request is
// captured as a closure over copied argument values and appended to the
// FIFO queue of the instance the session occupies; one consumer per
// queue executes closures strictly in enqueue order, so instance state
// is only ever mutated from one goroutine.
package gate

import (
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of serialized work.
type Task struct {
	// Op names the operation for logging and panic reports.
	Op string
	// Run executes the captured request.
	Run func()
}

// TaskQueue is an unbounded FIFO with a single consumer. Enqueue never
// blocks; the consumer blocks only when the queue is empty.
type TaskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a task.
//
// Postcondition: Returns false if the queue is closed; the task was
// not enqueued. Never blocks on the consumer.
func (q *TaskQueue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.cond.Signal()
	return true
}

// Close stops the queue. The consumer drains remaining tasks and exits.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// pop blocks until a task is available or the queue is closed and
// drained.
func (q *TaskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Consume runs the consumer loop: tasks execute strictly in enqueue
// order and a panicking task never stops the loop.
//
// Precondition: At most one goroutine calls Consume per queue.
func (q *TaskQueue) Consume(logger *zap.Logger) {
	for {
		t, ok := q.pop()
		if !ok {
			return
		}
		runTask(t, logger)
	}
}

func runTask(t Task, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked",
				zap.String("op", t.Op),
				zap.Any("panic", r),
			)
		}
	}()
	t.Run()
}
