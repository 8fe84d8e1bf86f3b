package rtxkernel

import "github.com/cantone-labs/rtxkernel/internal/task"

// Tick advances kernel time by one unit, the caller-driven stand-in for a
// real SysTick interrupt (see internal/platform.Driver for a real-time
// source, or call this directly from a test for deterministic control).
//
// Sleeping tasks count down RemainingSleepTime and wake one tick after it
// reaches zero — the elapsed wake-detection tick is itself charged against
// the task's next deadline period, so a woken deadline task reloads to
// deadline-1 rather than deadline. Ready and running deadline tasks count
// down RemainingTime and reload to a fresh deadline on expiry. Tick never
// performs a context switch itself — per the ordering guarantee that
// scheduling decisions only happen at a kernel entry point, it only posts a
// switch request for the next voluntary (or idle) entry to observe.
func (k *Kernel) Tick() {
	k.mu.Lock()
	woke := false
	for tid := uint32(1); tid < task.MaxTasks; tid++ {
		t := k.tasks[tid]
		if t == nil {
			continue
		}
		switch t.State {
		case task.Sleeping:
			if t.RemainingSleepTime > 0 {
				t.RemainingSleepTime--
				continue
			}
			t.State = task.Ready
			if t.Deadline != 0 {
				t.RemainingTime = t.Deadline - 1
			}
			woke = true
		case task.Ready, task.Running:
			if t.Deadline == 0 {
				continue
			}
			if t.RemainingTime == 0 {
				t.RemainingTime = t.Deadline
			} else {
				t.RemainingTime--
			}
		}
	}
	k.mu.Unlock()

	if woke {
		k.hal.RequestSwitch()
	}
}
