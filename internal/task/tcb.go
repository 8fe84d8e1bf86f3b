// tcb.go - task control block data model.
//
// Translated field-for-field from the original task_control_block /
// kernel_config_t. Runtime-only plumbing (goroutines, channels) lives in the
// rtxkernel package's own bookkeeping, not here — this type stays a pure
// value snapshot, which is what makes TaskInfo a plain copy.
package task

import "fmt"

// MaxTasks is the maximum number of task slots the kernel manages, including
// the idle task at TID 0.
const MaxTasks = 16

// MinStackSize is the fixed stack allocation size for every task, matching
// the original's STACK_SIZE.
const MinStackSize = 0x200

// IdleTID is the reserved task identifier for the idle task.
const IdleTID = 0

// State is a task's scheduling state.
type State uint8

const (
	Dormant State = iota
	Ready
	Running
	Sleeping
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "DORMANT"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Sleeping:
		return "SLEEPING"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// TCB is a task control block.
type TCB struct {
	TID   uint32
	Entry func()
	State State

	// StackSize is the size in bytes reserved for this task's stack,
	// including its in-band header.
	StackSize uint32
	// StackHigh is the address of the stack's in-band header (the original's
	// stack_base), i.e. the lowest address of the block reserved for this
	// task.
	StackHigh uint32
	// SP is the simulated current stack pointer, primed at task creation by
	// frame.Bootstrap and otherwise opaque bookkeeping.
	SP uint32

	// Deadline is the task's period in ticks. Every user task has a non-zero
	// deadline; zero is used only by the idle task, which EDF never picks.
	Deadline uint32
	// RemainingTime is ticks left until this task's next deadline expires.
	RemainingTime uint32
	// RemainingSleepTime is ticks left before an osSleep-blocked task wakes.
	RemainingSleepTime uint32
}

// IsDeadline reports whether t was created with a non-zero deadline.
func (t *TCB) IsDeadline() bool { return t.Deadline != 0 }
