package rtxkernel

import (
	"sync"
	"testing"
	"time"

	"github.com/cantone-labs/rtxkernel/internal/platform"
)

// waitFor polls cond until it returns true or the deadline passes, failing
// the test if the deadline is reached. Used instead of a fixed sleep because
// task goroutines advance asynchronously with respect to Tick calls.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestScenarioLonePeriodicTaskRunsToCompletion(t *testing.T) {
	hal := platform.NewSimHAL()
	k := NewKernel(hal, nil)
	if err := k.MemInit(32768); err != nil {
		t.Fatalf("MemInit: %v", err)
	}

	var mu sync.Mutex
	iterations := 0
	const want = 4

	_, err := k.CreateDeadlineTask(func() {
		for {
			mu.Lock()
			iterations++
			done := iterations >= want
			mu.Unlock()
			if done {
				return
			}
			k.PeriodYield()
		}
	}, 5)
	if err != nil {
		t.Fatalf("CreateDeadlineTask: %v", err)
	}

	go k.Start()

	for i := 0; i < 200; i++ {
		k.Tick()
		// Give the task goroutine time to run and go back to sleep before
		// the next tick, as a real 1 ms tick source would.
		time.Sleep(time.Millisecond)
		mu.Lock()
		done := iterations >= want
		mu.Unlock()
		if done {
			break
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return iterations >= want
	})
}

func TestScenarioEDFPrefersEarlierDeadline(t *testing.T) {
	hal := platform.NewSimHAL()
	k := NewKernel(hal, nil)
	if err := k.MemInit(32768); err != nil {
		t.Fatalf("MemInit: %v", err)
	}

	var mu sync.Mutex
	var order []string

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	slowDone := make(chan struct{})
	fastDone := make(chan struct{})

	_, err := k.CreateDeadlineTask(func() {
		record("slow-start")
		close(slowDone)
	}, 50)
	if err != nil {
		t.Fatalf("CreateDeadlineTask slow: %v", err)
	}
	_, err = k.CreateDeadlineTask(func() {
		record("fast-start")
		close(fastDone)
	}, 5)
	if err != nil {
		t.Fatalf("CreateDeadlineTask fast: %v", err)
	}

	go k.Start()

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("fast task never ran")
	}
	select {
	case <-slowDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("slow task never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != "fast-start" {
		t.Fatalf("execution order = %v, want fast-start first", order)
	}
}

func TestScenarioSleepWake(t *testing.T) {
	hal := platform.NewSimHAL()
	k := NewKernel(hal, nil)
	if err := k.MemInit(32768); err != nil {
		t.Fatalf("MemInit: %v", err)
	}

	woke := make(chan struct{})
	_, err := k.CreateTask(func() {
		k.Sleep(3)
		close(woke)
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	go k.Start()

	waitFor(t, func() bool {
		info, err := k.TaskInfo(1)
		return err == nil && info.RemainingSleepTime > 0
	})

	for i := 0; i < 10; i++ {
		k.Tick()
		select {
		case <-woke:
			return
		default:
		}
	}

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatalf("sleeping task never woke")
	}
}

func TestScenarioExitReclaimsStack(t *testing.T) {
	hal := platform.NewSimHAL()
	k := NewKernel(hal, nil)
	if err := k.MemInit(4096); err != nil {
		t.Fatalf("MemInit: %v", err)
	}

	before, err := k.CountExternalFragments(4096)
	if err != nil {
		t.Fatalf("CountExternalFragments: %v", err)
	}

	exited := make(chan struct{})
	_, err = k.CreateTask(func() {
		close(exited)
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	go k.Start()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never ran")
	}

	waitFor(t, func() bool {
		after, err := k.CountExternalFragments(4096)
		return err == nil && after == before
	})
}
