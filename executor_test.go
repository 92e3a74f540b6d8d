package bitonic

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/bitonic/backend/cpu"
	"github.com/gogpu/bitonic/gpucore"
)

// startExecutor runs e until the test ends.
func startExecutor(t *testing.T, e *Executor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	})
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("no result")
		return Result{}
	}
}

func TestExecutor_RunsRequest(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 256, BlockSize: 16})
	keys := randomKeys(rand.New(rand.NewPCG(3, 4)), 256)
	if err := s.SetData(makeRecords(keys)); err != nil {
		t.Fatal(err)
	}

	results := make(chan Result, 4)
	e := NewExecutor(s, WithResultFunc(func(r Result) { results <- r }))
	startExecutor(t, e)

	if !e.Request() {
		t.Fatal("Request on an idle sorter was rejected")
	}
	r := waitResult(t, results)
	if r.Err != nil || r.Seq != 1 {
		t.Fatalf("result = %+v", r)
	}

	pos, col := snapshot(t, s)
	checkSortedPermutation(t, keys, pos, col, Ascending)

	if !e.Request() {
		t.Fatal("second Request rejected after the first completed")
	}
	if r := waitResult(t, results); r.Seq != 2 {
		t.Errorf("Seq = %d, want 2", r.Seq)
	}
}

func TestExecutor_DropsWhileBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hook := func(gpucore.KernelKind, gpucore.Params, uint32, uint32, uint32) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4}, cpu.WithDispatchHook(hook))

	results := make(chan Result, 4)
	e := NewExecutor(s, WithResultFunc(func(r Result) { results <- r }))
	startExecutor(t, e)

	if !e.Request() {
		t.Fatal("first Request rejected")
	}
	<-entered

	for range 5 {
		if e.Request() {
			t.Fatal("Request accepted while an invocation runs")
		}
	}
	if started, _ := s.Sort(context.Background()); started {
		t.Fatal("Sort started while the executor runs")
	}

	close(release)
	if r := waitResult(t, results); r.Err != nil {
		t.Fatalf("result = %+v", r)
	}
	if st := s.Stats(); st.Dropped != 6 || st.Completed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestExecutor_CancelReleasesPending(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})
	e := NewExecutor(s)

	// No worker yet: the request stays in the hand-off.
	if !e.Request() {
		t.Fatal("Request rejected")
	}
	if s.State() != StateExecuting {
		t.Fatalf("State() = %s, want executing while a request is pending", s.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %s, want idle after the pending request was released", s.State())
	}
	if st := s.Stats(); st.Started != 0 {
		t.Errorf("Started = %d, want 0", st.Started)
	}
}

func TestExecutor_RequestAfterRunReturns(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})
	results := make(chan Result, 1)
	e := NewExecutor(s, WithResultFunc(func(r Result) { results <- r }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	if e.Request() {
		t.Fatal("Request accepted with no worker running")
	}
	if s.State() != StateIdle {
		t.Fatalf("State() = %s, want idle", s.State())
	}
	sortOnce(t, s)

	// A new worker accepts requests again.
	startExecutor(t, e)
	deadline := time.Now().Add(2 * time.Second)
	for !e.Request() {
		if time.Now().After(deadline) {
			t.Fatal("Request rejected after Run restarted")
		}
		time.Sleep(time.Millisecond)
	}
	if r := waitResult(t, results); r.Err != nil {
		t.Errorf("result = %+v", r)
	}
}

func TestExecutor_RequestAfterClose(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})
	e := NewExecutor(s)
	_ = s.Close()

	if e.Request() {
		t.Error("Request accepted on a closed sorter")
	}
}

func TestExecutor_ConcurrentRunPanics(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})
	e := NewExecutor(s)
	e.running.Store(true)

	defer func() {
		if recover() == nil {
			t.Error("second Run did not panic")
		}
	}()
	_ = e.Run(context.Background())
}
