package rtxkernel

import (
	"fmt"
	"runtime"

	"github.com/cantone-labs/rtxkernel/internal/task"
)

// doSwitchLocked performs a context switch away from `from` to `to`. It must
// be called with k.mu held by the goroutine currently acting as `from`; it
// releases the lock itself. `from` is left in fromState.
//
// The idle task (TID 0) is never handed control through its own wake
// channel: idle has none. Idle's goroutine is permanently parked in
// idleLoop's call to hal.WaitForInterrupt() whenever it isn't actively
// running, so switching TO idle means nudging that wait via
// hal.RequestSwitch() instead of a channel send, and switching FROM idle
// means returning without blocking at all — idle's own for loop is what
// re-parks it. Every other task switch is a direct wake-channel handoff: the
// outgoing goroutine blocks on its own channel until a future switch wakes
// it, the goroutine-handoff translation of a real PendSV-driven context
// switch.
func (k *Kernel) doSwitchLocked(from, to uint32, fromState task.State) {
	if ft := k.tasks[from]; ft != nil {
		ft.State = fromState
	}
	if tt := k.tasks[to]; tt != nil {
		tt.State = task.Running
	}
	k.current = to

	var fromRt, toRt *taskRuntime
	if from != task.IdleTID {
		fromRt = k.runtimes[from]
	}
	if to != task.IdleTID {
		toRt = k.runtimes[to]
	}
	k.mu.Unlock()

	if toRt != nil {
		toRt.wake <- struct{}{}
	} else {
		k.hal.RequestSwitch()
	}

	if fromRt != nil {
		<-fromRt.wake
	}
}

// requestSwitchFrom nudges the scheduler after an event that may have made
// a higher-priority task ready (task creation, a tick, a deadline change).
// If the idle task is the one currently parked waiting for an interrupt,
// this wakes it so it can pick the new task up; if some other task is
// currently running, the change is picked up the next time that task (or
// the tick handler) voluntarily re-enters the kernel, per the ordering
// guarantee that scheduling decisions are only ever made at a kernel entry
// point.
func (k *Kernel) requestSwitchFrom(tid uint32) {
	k.hal.RequestSwitch()
}

// Yield voluntarily gives up the CPU, letting the scheduler pick whichever
// READY task (possibly the caller itself) has the earliest deadline. It
// resets the caller's remaining_time to its full deadline, regardless of
// whether a switch actually happens.
func (k *Kernel) Yield() {
	k.mu.Lock()
	from := k.current
	if t := k.tasks[from]; t != nil {
		t.RemainingTime = t.Deadline
	}
	next := k.pickNextLocked()
	if next == from {
		k.mu.Unlock()
		return
	}
	k.doSwitchLocked(from, next, task.Ready)
}

// PeriodYield is the deadline-task equivalent of Yield: a deadline task
// calls it once per unit of work to surrender the CPU until its next
// period, the same way Sleep blocks a task for a fixed number of ticks.
// The caller is put to sleep for however many ticks remain in its current
// period, trusting the tick handler's reload-on-wake accounting to bring it
// back exactly when its deadline allows.
func (k *Kernel) PeriodYield() {
	k.mu.Lock()
	from := k.current
	t := k.tasks[from]
	t.RemainingSleepTime = t.RemainingTime
	next := k.pickNextLocked()
	k.doSwitchLocked(from, next, task.Sleeping)
}

// Sleep blocks the calling task for the given number of ticks. A zero
// duration is treated as a plain Yield.
func (k *Kernel) Sleep(ticks uint32) {
	if ticks == 0 {
		k.Yield()
		return
	}
	k.mu.Lock()
	from := k.current
	k.tasks[from].RemainingSleepTime = ticks
	next := k.pickNextLocked()
	k.doSwitchLocked(from, next, task.Sleeping)
}

// TaskExit terminates the calling task: its stack is reclaimed, its slot
// freed, and control is handed to whatever the scheduler now prefers. On
// success it never returns, the same contract the original's osTaskExit has
// via its infinite scheduler-call loop — here enforced with runtime.Goexit
// so the calling goroutine can never fall through to resume task code after
// exit. It returns an error instead of exiting when called in a context
// that can't legally exit: before the kernel has started, or from the idle
// task itself, which has no slot to free.
func (k *Kernel) TaskExit() error {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return ErrNotStarted
	}
	from := k.current
	if from == task.IdleTID {
		k.mu.Unlock()
		return fmt.Errorf("rtxkernel: idle task cannot exit")
	}
	t := k.tasks[from]
	if t == nil {
		k.mu.Unlock()
		runtime.Goexit()
		return nil
	}
	stackAddr := t.StackHigh
	k.tasks[from] = nil
	k.numTasks--
	next := k.pickNextLocked()
	if tt := k.tasks[next]; tt != nil {
		tt.State = task.Running
	}
	k.current = next

	var toRt *taskRuntime
	if next != task.IdleTID {
		toRt = k.runtimes[next]
	}
	k.mu.Unlock()

	if k.mem != nil {
		_ = k.mem.Dealloc(stackAddr, from)
	}

	k.mu.Lock()
	k.runtimes[from] = nil
	k.mu.Unlock()

	if toRt != nil {
		toRt.wake <- struct{}{}
	} else {
		k.hal.RequestSwitch()
	}
	runtime.Goexit()
	return nil
}
