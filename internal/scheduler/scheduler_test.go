package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jito-foundation/kobe/internal/adminsrv"
)

func TestSchedulerInvokesFixedIntervalTaskAndRecordsStatus(t *testing.T) {
	sched := New(nil)
	var runs int32

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx, Task{
		Name:     "fast-task",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	sched.Wait()

	status := sched.Tracker()
	require.NotNil(t, status)

	rec := httptest.NewRecorder()
	adminsrv.HTTPHandler(status).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	var statuses map[string]adminsrv.RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.False(t, statuses["fast-task"].LastSuccessAt.IsZero(), "a successful run must be recorded for the task")
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	sched := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx, Task{
		Name:     "noop",
		Interval: time.Hour,
		Run:      func(ctx context.Context) error { return nil },
	})
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
