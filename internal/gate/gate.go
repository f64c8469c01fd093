package gate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/saltmarsh-games/shardd/internal/game/session"
)

// systemQueue keys the queue shared by maintenance work that is not
// bound to any instance.
const systemQueue int64 = 0

// Gate owns one task queue per occupied instance plus a system queue.
// The network layer only ever enqueues; consumers are started lazily,
// one per queue, and live until Close.
type Gate struct {
	sessions *session.Registry
	logger   *zap.Logger

	mu     sync.Mutex
	queues map[int64]*TaskQueue
	closed bool
	wg     sync.WaitGroup
}

// NewGate constructs a Gate over the session registry.
func NewGate(sessions *session.Registry, logger *zap.Logger) *Gate {
	return &Gate{
		sessions: sessions,
		logger:   logger,
		queues:   make(map[int64]*TaskQueue),
	}
}

// queueFor returns the queue for an instance, starting its consumer on
// first use.
func (g *Gate) queueFor(instanceID int64) *TaskQueue {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	q, ok := g.queues[instanceID]
	if !ok {
		q = NewTaskQueue()
		g.queues[instanceID] = q
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			q.Consume(g.logger)
		}()
	}
	return q
}

// Submit captures a request for a session and enqueues it on the queue
// of the instance the session currently occupies.
//
// Precondition: fn must close only over copied values, never over
// buffers the caller may reuse.
// Postcondition: Returns false if the session is unknown or the gate
// is closed. When fn later runs, it re-checks that the same session is
// still registered and no-ops if it has disconnected.
func (g *Gate) Submit(sessionID int32, op string, fn func(*session.Session)) bool {
	s, ok := g.sessions.BySessionID(sessionID)
	if !ok {
		return false
	}

	q := g.queueFor(s.InstanceID())
	if q == nil {
		return false
	}
	return q.Enqueue(Task{
		Op: op,
		Run: func() {
			// Session ids are reused after release; the pointer
			// comparison rejects a different session under the same id.
			live, ok := g.sessions.BySessionID(sessionID)
			if !ok || live != s {
				g.logger.Debug("dropping request for disconnected session",
					zap.Int32("session_id", sessionID),
					zap.String("op", op),
				)
				return
			}
			fn(live)
		},
	})
}

// SubmitSystem enqueues instance-independent work, such as maintenance
// sweeps, on the system queue.
func (g *Gate) SubmitSystem(op string, fn func()) bool {
	q := g.queueFor(systemQueue)
	if q == nil {
		return false
	}
	return q.Enqueue(Task{Op: op, Run: fn})
}

// Pending returns the total number of queued tasks across all queues.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, q := range g.queues {
		n += q.Len()
	}
	return n
}

// Close stops accepting work, drains every queue, and waits for all
// consumers to exit.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	queues := make([]*TaskQueue, 0, len(g.queues))
	for _, q := range g.queues {
		queues = append(queues, q)
	}
	g.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
	g.wg.Wait()
}
