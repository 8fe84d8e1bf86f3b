package rtxkernel

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/cantone-labs/rtxkernel/internal/mem"
	"github.com/cantone-labs/rtxkernel/internal/platform"
	"github.com/cantone-labs/rtxkernel/internal/sched"
	"github.com/cantone-labs/rtxkernel/internal/task"
)

// MinHeapExp is the smallest block exponent the buddy allocator will ever
// split down to: 32 bytes, enough for the 24-byte in-band header plus a
// handful of payload bytes.
const MinHeapExp = 5

// DefaultDeadlineTicks is the period assigned to a task created with
// CreateTask, which takes no explicit deadline. It matches the original's
// osCreateTask default of 5 ticks rather than leaving the task undeadlined
// (deadline 0 is reserved for the idle task alone).
const DefaultDeadlineTicks = 5

// staticBus adapts a plain []byte into a task.ByteBus, used only for the
// idle task's stack, which lives outside the buddy heap (see the Idle task
// stack design note: mem_init runs after the idle task is created, so idle
// can't be handed a buddy-managed block).
type staticBus struct{ buf []byte }

func (b *staticBus) Write32(addr uint32, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[addr:addr+4], v)
}

// taskRuntime holds the goroutine-side plumbing for a task slot that
// task.TCB, as a pure data snapshot, deliberately doesn't carry.
type taskRuntime struct {
	wake    chan struct{}
	started bool
}

// Kernel holds all kernel state that used to live in file-scope globals in
// the original — one value, constructed explicitly, no package-level
// mutable state.
type Kernel struct {
	mu  sync.Mutex
	hal platform.HAL
	log *log.Logger

	mem *mem.Allocator

	tasks     [task.MaxTasks]*task.TCB
	runtimes  [task.MaxTasks]*taskRuntime
	idleStack [task.MinStackSize]byte

	current  uint32
	started  bool
	numTasks int // live user tasks, excludes idle
}

// NewKernel constructs a kernel bound to the given HAL. logger may be nil,
// in which case kernel diagnostics are discarded. This corresponds to the
// original's osKernelInit: it creates the idle task (TID 0) but does not yet
// start scheduling.
func NewKernel(hal platform.HAL, logger *log.Logger) *Kernel {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	k := &Kernel{hal: hal, log: logger}
	k.hal.ConfigurePriorities()

	idle := &task.TCB{
		TID:       task.IdleTID,
		Entry:     k.idleLoop,
		State:     task.Ready,
		StackSize: task.MinStackSize,
	}
	bus := &staticBus{buf: k.idleStack[:]}
	idle.SP = task.Bootstrap(bus, uint32(len(k.idleStack)), idle.Entry)
	k.tasks[task.IdleTID] = idle
	// Idle has no runtimes[] entry: its goroutine is never handed control
	// through a wake channel, only through hal.WaitForInterrupt(); see
	// doSwitchLocked.
	k.current = task.IdleTID

	k.log.Printf("kernel: initialized, idle task ready")
	return k
}

// MemInit creates the buddy-managed heap of the given size, which must be a
// power of two. It corresponds to the original's k_mem_init / mem_init.
func (k *Kernel) MemInit(heapSize uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.mem != nil {
		return ErrMemAlreadyInit
	}
	a, err := mem.NewAllocator(heapSize, MinHeapExp)
	if err != nil {
		return err
	}
	k.mem = a
	k.log.Printf("kernel: heap initialized, %d bytes", heapSize)
	return nil
}

// CreateTask creates a task with the default period (DefaultDeadlineTicks)
// and returns its TID, matching the original's osCreateTask.
func (k *Kernel) CreateTask(entry func()) (uint32, error) {
	return k.createTask(entry, DefaultDeadlineTicks)
}

// CreateDeadlineTask creates a task scheduled earliest-deadline-first with
// the given period, in ticks.
func (k *Kernel) CreateDeadlineTask(entry func(), deadline uint32) (uint32, error) {
	if deadline == 0 {
		return 0, fmt.Errorf("rtxkernel: deadline must be non-zero")
	}
	return k.createTask(entry, deadline)
}

func (k *Kernel) createTask(entry func(), deadline uint32) (uint32, error) {
	if entry == nil {
		return 0, fmt.Errorf("rtxkernel: entry must not be nil")
	}

	k.mu.Lock()
	if k.mem == nil {
		k.mu.Unlock()
		return 0, ErrMemNotInit
	}

	tid := uint32(0)
	found := false
	for i := uint32(1); i < task.MaxTasks; i++ {
		if k.tasks[i] == nil {
			tid = i
			found = true
			break
		}
	}
	if !found {
		k.mu.Unlock()
		return 0, ErrTooManyTasks
	}

	stackAddr, err := k.mem.Alloc(tid, task.MinStackSize)
	if err != nil {
		k.mu.Unlock()
		return 0, err
	}

	t := &task.TCB{
		TID:           tid,
		Entry:         entry,
		State:         task.Ready,
		StackSize:     k.mem.BlockSize(stackAddr),
		StackHigh:     stackAddr,
		Deadline:      deadline,
		RemainingTime: deadline,
	}
	payloadHigh := stackAddr + k.mem.BlockSize(stackAddr)
	t.SP = task.Bootstrap(k.mem, payloadHigh, entry)

	k.tasks[tid] = t
	k.runtimes[tid] = &taskRuntime{wake: make(chan struct{}, 1)}
	k.numTasks++

	k.log.Printf("kernel: created task %d deadline=%d", tid, deadline)
	k.mu.Unlock()

	if k.started {
		k.launchTask(tid)
		k.requestSwitchFrom(tid)
	}
	return tid, nil
}

// launchTask starts the goroutine backing a task slot, idempotently.
func (k *Kernel) launchTask(tid uint32) {
	k.mu.Lock()
	rt := k.runtimes[tid]
	if rt.started {
		k.mu.Unlock()
		return
	}
	rt.started = true
	entry := k.tasks[tid].Entry
	k.mu.Unlock()

	go func() {
		<-rt.wake
		entry()
		_ = k.TaskExit()
	}()
}

// Start begins scheduling. It corresponds to osKernelStart: the calling
// goroutine becomes the idle task's goroutine and never returns while the
// kernel runs, matching the original's "kernel_start never returns"
// contract.
func (k *Kernel) Start() error {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return ErrAlreadyStarted
	}
	if k.numTasks == 0 {
		k.mu.Unlock()
		return fmt.Errorf("rtxkernel: at least one task must be created before Start")
	}
	k.started = true
	k.mu.Unlock()

	// launchTask locks k.mu itself, so the task table is only consulted
	// under the lock here, never while it's already held.
	for tid := uint32(1); tid < task.MaxTasks; tid++ {
		k.mu.Lock()
		exists := k.tasks[tid] != nil
		k.mu.Unlock()
		if exists {
			k.launchTask(tid)
		}
	}

	k.mu.Lock()
	next := k.pickNextLocked()
	if next != task.IdleTID {
		k.doSwitchLocked(task.IdleTID, next, task.Ready)
	} else {
		k.mu.Unlock()
	}
	k.idleLoop()
	return nil
}

// idleLoop is the idle task's entry point: wait for an interrupt (a tick
// that made some task ready, or any kernel entry that posted a switch
// request) and hand off to whatever the scheduler now prefers. It hands off
// only while idle is the current task; a wake that arrives while another
// task runs is left for that task's next kernel entry.
func (k *Kernel) idleLoop() {
	for {
		k.hal.WaitForInterrupt()
		k.mu.Lock()
		next := k.pickNextLocked()
		if next == task.IdleTID || k.current != task.IdleTID {
			k.mu.Unlock()
			continue
		}
		k.doSwitchLocked(task.IdleTID, next, task.Ready)
	}
}

func (k *Kernel) pickNextLocked() uint32 {
	candidates := make([]sched.Candidate, 0, task.MaxTasks)
	for tid := uint32(0); tid < task.MaxTasks; tid++ {
		t := k.tasks[tid]
		if t == nil {
			continue
		}
		candidates = append(candidates, sched.Candidate{
			TID:           t.TID,
			State:         t.State,
			RemainingTime: t.RemainingTime,
		})
	}
	return sched.Pick(candidates)
}

// GetTID returns the TID of the currently running task.
func (k *Kernel) GetTID() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// TaskInfo returns a snapshot copy of a task's control block.
func (k *Kernel) TaskInfo(tid uint32) (task.TCB, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if tid >= task.MaxTasks {
		return task.TCB{}, ErrUnknownTask
	}
	t := k.tasks[tid]
	if t == nil {
		return task.TCB{}, ErrUnknownTask
	}
	return *t, nil
}

// SetDeadline updates another task's deadline. tid must name a live,
// non-current task: a task cannot change its own deadline out from under
// itself mid-run, matching the original osSetDeadline's requirement that
// the caller act on a task other than the one currently executing.
func (k *Kernel) SetDeadline(tid uint32, deadline uint32) error {
	if deadline == 0 {
		return fmt.Errorf("rtxkernel: deadline must be non-zero")
	}

	k.mu.Lock()
	if tid >= task.MaxTasks {
		k.mu.Unlock()
		return ErrUnknownTask
	}
	t := k.tasks[tid]
	if t == nil {
		k.mu.Unlock()
		return ErrUnknownTask
	}
	if tid == k.current {
		k.mu.Unlock()
		return ErrNotCurrentTask
	}
	t.Deadline = deadline
	t.RemainingTime = deadline
	k.mu.Unlock()

	k.hal.RequestSwitch()
	return nil
}

// Alloc reserves size bytes from the heap on behalf of the calling task.
func (k *Kernel) Alloc(size uint32) (uint32, error) {
	k.mu.Lock()
	tid := k.current
	a := k.mem
	k.mu.Unlock()
	if a == nil {
		return 0, ErrMemNotInit
	}
	addr, err := a.Alloc(tid, size)
	if err != nil {
		return 0, err
	}
	return mem.PayloadAddr(addr), nil
}

// Dealloc releases a block previously returned by Alloc, which must be
// owned by the calling task.
func (k *Kernel) Dealloc(payloadAddr uint32) error {
	k.mu.Lock()
	tid := k.current
	a := k.mem
	k.mu.Unlock()
	if a == nil {
		return ErrMemNotInit
	}
	return a.Dealloc(payloadAddr-mem.HeaderSize, tid)
}

// CountExternalFragments reports free blocks too small to satisfy size.
func (k *Kernel) CountExternalFragments(size uint32) (int, error) {
	k.mu.Lock()
	a := k.mem
	k.mu.Unlock()
	if a == nil {
		return 0, ErrMemNotInit
	}
	return a.CountExternalFragments(size), nil
}

// TransferMemory reassigns ownership of a block from the calling task to
// another task.
func (k *Kernel) TransferMemory(payloadAddr uint32, toTID uint32) error {
	k.mu.Lock()
	tid := k.current
	a := k.mem
	k.mu.Unlock()
	if a == nil {
		return ErrMemNotInit
	}
	return a.TransferOwnership(payloadAddr-mem.HeaderSize, tid, toTID)
}

// WriteDebugInfo writes a human-readable dump of every task slot, the
// successor to the original's print_kernel_info.
func (k *Kernel) WriteDebugInfo(w io.Writer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fmt.Fprintf(w, "current=%d\n", k.current)
	for tid := uint32(0); tid < task.MaxTasks; tid++ {
		t := k.tasks[tid]
		if t == nil {
			continue
		}
		fmt.Fprintf(w, "tid=%-2d state=%-8s deadline=%-6d remaining=%-6d sleep=%-6d stack=0x%08x\n",
			t.TID, t.State, t.Deadline, t.RemainingTime, t.RemainingSleepTime, t.StackHigh)
	}
}
