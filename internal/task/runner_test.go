package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunner_PostWorkerAndForeground(t *testing.T) {
	r := NewRunner(2)
	defer r.CancelAndWait()

	var workerRan, fgRan int32
	done := make(chan struct{}, 2)
	r.PostWorker(func() { atomic.StoreInt32(&workerRan, 1); done <- struct{}{} })
	r.PostForeground(func() { atomic.StoreInt32(&fgRan, 1); done <- struct{}{} })

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("task did not run in time")
		}
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&workerRan))
	require.EqualValues(t, 1, atomic.LoadInt32(&fgRan))
}

func TestRunner_CancelAndWaitIsIdempotent(t *testing.T) {
	r := NewRunner(1)
	r.CancelAndWait()
	r.CancelAndWait()
}

func TestSyncRunner_RunsInline(t *testing.T) {
	r := NewSyncRunner()
	ran := false
	r.PostWorker(func() { ran = true })
	require.True(t, ran)
	r.CancelAndWait()
}
