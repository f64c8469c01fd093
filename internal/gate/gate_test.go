package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saltmarsh-games/shardd/internal/game/session"
)

func TestTaskQueue_FIFOOrder(t *testing.T) {
	q := NewTaskQueue()
	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Enqueue(Task{Op: "n", Run: func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}}))
	}
	q.Close()
	q.Consume(zap.NewNop())

	require.Len(t, order, 100)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestTaskQueue_EnqueueAfterClose(t *testing.T) {
	q := NewTaskQueue()
	q.Close()
	assert.False(t, q.Enqueue(Task{Op: "late", Run: func() {}}))
}

func TestTaskQueue_PanicDoesNotStopConsumer(t *testing.T) {
	q := NewTaskQueue()
	ran := false
	require.True(t, q.Enqueue(Task{Op: "boom", Run: func() { panic("boom") }}))
	require.True(t, q.Enqueue(Task{Op: "after", Run: func() { ran = true }}))
	q.Close()

	assert.NotPanics(t, func() { q.Consume(zap.NewNop()) })
	assert.True(t, ran, "task after the panic still runs")
}

func TestTaskQueue_ConsumerBlocksUntilWork(t *testing.T) {
	q := NewTaskQueue()
	done := make(chan struct{})
	go func() {
		q.Consume(zap.NewNop())
		close(done)
	}()

	ran := make(chan struct{})
	require.True(t, q.Enqueue(Task{Op: "wake", Run: func() { close(ran) }}))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not pick up the task")
	}

	q.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not exit after close")
	}
}

func newGateFixture(t *testing.T) (*Gate, *session.Registry) {
	t.Helper()
	sessions := session.NewRegistry()
	g := NewGate(sessions, zap.NewNop())
	t.Cleanup(g.Close)
	return g, sessions
}

func TestGate_SubmitRuns(t *testing.T) {
	g, sessions := newGateFixture(t)
	s, err := sessions.Register(session.Profile{PlayerID: 1, DisplayName: "Alice", InstanceID: 10})
	require.NoError(t, err)

	done := make(chan int64, 1)
	require.True(t, g.Submit(s.ID, "wave", func(live *session.Session) {
		done <- live.PlayerID
	}))

	select {
	case got := <-done:
		assert.Equal(t, int64(1), got)
	case <-time.After(2 * time.Second):
		t.Fatal("request never executed")
	}
}

func TestGate_SubmitUnknownSession(t *testing.T) {
	g, _ := newGateFixture(t)
	assert.False(t, g.Submit(99, "wave", func(*session.Session) {}))
}

func TestGate_DisconnectedSessionIsNoOp(t *testing.T) {
	g, sessions := newGateFixture(t)
	s, err := sessions.Register(session.Profile{PlayerID: 1, DisplayName: "Alice", InstanceID: 10})
	require.NoError(t, err)

	// Park the instance consumer so the captured request is still
	// queued when the session disconnects.
	release := make(chan struct{})
	require.True(t, g.Submit(s.ID, "park", func(*session.Session) { <-release }))

	var ran atomic.Bool
	require.True(t, g.Submit(s.ID, "wave", func(*session.Session) { ran.Store(true) }))

	require.NoError(t, sessions.Unregister(s.ID))
	close(release)

	// A new session reusing the released id must not receive the
	// stale request either.
	s2, err := sessions.Register(session.Profile{PlayerID: 2, DisplayName: "Bob", InstanceID: 10})
	require.NoError(t, err)
	require.Equal(t, s.ID, s2.ID, "released id is reused")

	g.Close()
	assert.False(t, ran.Load(), "request for a disconnected session is a no-op")
}

func TestGate_PerInstanceSerialization(t *testing.T) {
	g, sessions := newGateFixture(t)
	s, err := sessions.Register(session.Profile{PlayerID: 1, DisplayName: "Alice", InstanceID: 10})
	require.NoError(t, err)

	// A single consumer means no two closures for this instance ever
	// overlap, so the unguarded counter stays exact.
	counter := 0
	const n = 500
	for i := 0; i < n; i++ {
		require.True(t, g.Submit(s.ID, "inc", func(*session.Session) { counter++ }))
	}
	g.Close()
	assert.Equal(t, n, counter)
}

func TestGate_SubmitSystem(t *testing.T) {
	g, _ := newGateFixture(t)

	done := make(chan struct{})
	require.True(t, g.SubmitSystem("sweep", func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("system task never executed")
	}
}

func TestGate_CloseRejectsFurtherWork(t *testing.T) {
	g, sessions := newGateFixture(t)
	s, err := sessions.Register(session.Profile{PlayerID: 1, DisplayName: "Alice", InstanceID: 10})
	require.NoError(t, err)

	g.Close()
	assert.False(t, g.Submit(s.ID, "late", func(*session.Session) {}))
	assert.False(t, g.SubmitSystem("late", func() {}))
}

func TestScheduler_FiresAndRearms(t *testing.T) {
	g, _ := newGateFixture(t)
	sched := NewScheduler(g, zap.NewNop())

	var fires atomic.Int32
	sched.Add("tick", 10*time.Millisecond, func() { fires.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return fires.Load() >= 3 },
		2*time.Second, 5*time.Millisecond, "task re-arms after each run")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestScheduler_SlowTaskDelaysOnlyItself(t *testing.T) {
	g, _ := newGateFixture(t)
	sched := NewScheduler(g, zap.NewNop())

	var slow, fast atomic.Int32
	sched.Add("slow", 10*time.Millisecond, func() {
		slow.Add(1)
		time.Sleep(50 * time.Millisecond)
	})
	sched.Add("fast", 10*time.Millisecond, func() { fast.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	// Both share the system queue consumer, so "delays only itself"
	// here means the slow task never schedules catch-up firings.
	assert.Eventually(t, func() bool { return slow.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, slow.Load(), int32(5), "no catch-up backlog accumulates")
}
