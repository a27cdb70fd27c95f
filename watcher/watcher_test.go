package watcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caio-sobreiro/dicomnet/spool"
)

func TestDebounceDispatchesExactlyOnceAfterBurst(t *testing.T) {
	var dispatches atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	w := New(Config{
		DebounceInterval:          50 * time.Millisecond,
		MinFileCountForProcessing: 2,
	}, func(key spool.StudyKey) {
		dispatches.Add(1)
		wg.Done()
	}, func(spool.StudyKey) bool { return false }, nil)

	key := spool.StudyKey("study1")

	// Burst of events, each re-arming the timer before it fires.
	for i := 0; i < 4; i++ {
		w.OnFileActivity(key)
		time.Sleep(10 * time.Millisecond)
	}

	waitTimeout(t, &wg, time.Second)

	time.Sleep(100 * time.Millisecond) // ensure no extra dispatch follows
	if got := dispatches.Load(); got != 1 {
		t.Errorf("expected exactly 1 dispatch, got %d", got)
	}
}

func TestBelowMinFileCountNeverDispatches(t *testing.T) {
	var dispatches atomic.Int32

	w := New(Config{
		DebounceInterval:          20 * time.Millisecond,
		MinFileCountForProcessing: 5,
	}, func(spool.StudyKey) {
		dispatches.Add(1)
	}, func(spool.StudyKey) bool { return false }, nil)

	w.OnFileActivity(spool.StudyKey("study1"))

	time.Sleep(100 * time.Millisecond)
	if got := dispatches.Load(); got != 0 {
		t.Errorf("expected 0 dispatches below quorum, got %d", got)
	}
}

func TestQuarantinedStudyNeverDispatched(t *testing.T) {
	var dispatches atomic.Int32

	w := New(Config{
		DebounceInterval:          10 * time.Millisecond,
		MinFileCountForProcessing: 1,
	}, func(spool.StudyKey) {
		dispatches.Add(1)
	}, func(spool.StudyKey) bool { return true }, nil)

	w.OnFileActivity(spool.StudyKey("study1"))
	time.Sleep(100 * time.Millisecond)

	if got := dispatches.Load(); got != 0 {
		t.Errorf("expected 0 dispatches for quarantined study, got %d", got)
	}
}

func TestDispatchCompleteAllowsReDispatch(t *testing.T) {
	var dispatches atomic.Int32
	var w *Watcher
	w = New(Config{
		DebounceInterval:          10 * time.Millisecond,
		MinFileCountForProcessing: 1,
	}, func(key spool.StudyKey) {
		dispatches.Add(1)
		w.DispatchComplete(key)
	}, func(spool.StudyKey) bool { return false }, nil)

	key := spool.StudyKey("study1")
	w.OnFileActivity(key)
	time.Sleep(100 * time.Millisecond)

	w.OnFileActivity(key)
	time.Sleep(100 * time.Millisecond)

	if got := dispatches.Load(); got != 2 {
		t.Errorf("expected 2 independent dispatches across re-receive, got %d", got)
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for dispatch")
	}
}
