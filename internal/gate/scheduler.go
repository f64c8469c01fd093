package gate

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// job is one recurring maintenance task.
type job struct {
	name     string
	interval time.Duration
	run      func()
	fireAt   time.Time
	index    int
}

// jobHeap orders jobs by fire time.
type jobHeap []*job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Scheduler drives recurring maintenance sweeps off a min-heap of fire
// times. A firing job is handed to the gate's system queue; when its
// sweep finishes it re-arms at now plus its fixed interval, so a slow
// sweep delays only itself and never accumulates catch-up backlog.
type Scheduler struct {
	gate   *Gate
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	heap jobHeap
	wake chan struct{}
}

// NewScheduler constructs a scheduler feeding the given gate.
func NewScheduler(g *Gate, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		gate:   g,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Add registers a recurring task; the first firing is one interval out.
//
// Precondition: interval must be > 0.
func (s *Scheduler) Add(name string, interval time.Duration, run func()) {
	s.mu.Lock()
	heap.Push(&s.heap, &job{
		name:     name,
		interval: interval,
		run:      run,
		fireAt:   s.now().Add(interval),
	})
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// rearm puts a job back on the heap after its sweep completed.
func (s *Scheduler) rearm(j *job) {
	s.mu.Lock()
	j.fireAt = s.now().Add(j.interval)
	heap.Push(&s.heap, j)
	s.mu.Unlock()
	s.signal()
}

// next pops every due job and reports how long until the earliest
// remaining fire time.
func (s *Scheduler) next() ([]*job, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*job
	for len(s.heap) > 0 && !s.heap[0].fireAt.After(now) {
		due = append(due, heap.Pop(&s.heap).(*job))
	}
	if len(s.heap) == 0 {
		return due, time.Hour
	}
	return due, s.heap[0].fireAt.Sub(now)
}

// Run fires jobs until the context is cancelled.
//
// Postcondition: Jobs already handed to the gate may still execute
// after Run returns; the gate's own Close drains them.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		due, wait := s.next()
		for _, j := range due {
			j := j
			submitted := s.gate.SubmitSystem(j.name, func() {
				j.run()
				s.rearm(j)
			})
			if !submitted {
				s.logger.Warn("gate closed, dropping maintenance task",
					zap.String("task", j.name),
				)
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-timer.C:
		}
	}
}
