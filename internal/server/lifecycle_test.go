package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFuncService(t *testing.T) {
	var started, stopped bool
	svc := &FuncService{
		StartFn: func() error { started = true; return nil },
		StopFn:  func() { stopped = true },
	}
	require.NoError(t, svc.Start())
	svc.Stop()
	assert.True(t, started)
	assert.True(t, stopped)
}

func TestCtxService_StopWakesStart(t *testing.T) {
	svc := &CtxService{
		RunFn: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- svc.Start() }()

	// Give Start a moment to install its cancel func.
	time.Sleep(10 * time.Millisecond)
	svc.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestLifecycle_StopsInReverseOrder(t *testing.T) {
	logger := zap.NewNop()
	lc := NewLifecycle(logger)

	var order []string
	blocker := make(chan struct{})

	mkSvc := func(name string) Service {
		return &FuncService{
			StartFn: func() error { <-blocker; return nil },
			StopFn:  func() { order = append(order, name) },
		}
	}
	lc.Add("first", mkSvc("first"))
	lc.Add("second", mkSvc("second"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = lc.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	close(blocker)

	require.Equal(t, []string{"second", "first"}, order)
}

func TestLifecycle_ServiceErrorTriggersShutdown(t *testing.T) {
	logger := zap.NewNop()
	lc := NewLifecycle(logger)

	var stops int32
	lc.Add("healthy", &FuncService{
		StartFn: func() error { select {} },
		StopFn:  func() { atomic.AddInt32(&stops, 1) },
	})
	lc.Add("broken", &FuncService{
		StartFn: func() error { return assert.AnError },
		StopFn:  func() { atomic.AddInt32(&stops, 1) },
	})

	done := make(chan struct{})
	go func() {
		_ = lc.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not shut down after service error")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&stops))
}
