package coutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoesWaitReturnsWhenAllGoroutinesFinish(t *testing.T) {
	var g Goes
	var n int32
	for i := 0; i < 5; i++ {
		g.Go(func() { atomic.AddInt32(&n, 1) })
	}
	g.Wait()
	require.Equal(t, int32(5), n)
}

func TestGoesWaitRepanicsFirstPanic(t *testing.T) {
	var g Goes
	g.Go(func() { panic("boom") })

	require.PanicsWithValue(t, "boom", func() { g.Wait() })
}

func TestGoesDoneClosesAfterWait(t *testing.T) {
	var g Goes
	done := g.Done()
	g.Go(func() {})

	select {
	case <-done:
		t.Fatal("done closed before goroutine finished")
	case <-time.After(10 * time.Millisecond):
	}

	g.Wait()

	select {
	case <-done:
	default:
		t.Fatal("done not closed after Wait")
	}
}

func TestGoesDoneCalledAfterWaitIsAlreadyClosed(t *testing.T) {
	var g Goes
	g.Go(func() {})
	g.Wait()

	select {
	case <-g.Done():
	default:
		t.Fatal("Done() called after Wait should return an already-closed channel")
	}
}
