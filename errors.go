package rtxkernel

import "errors"

// Sentinel errors for the kernel's own operations, layered over the
// RTX_OK/RTX_ERR boolean taxonomy the original used for everything.
var (
	ErrAlreadyStarted = errors.New("rtxkernel: kernel already started")
	ErrNotStarted     = errors.New("rtxkernel: kernel has not been started")
	ErrMemNotInit     = errors.New("rtxkernel: MemInit has not been called")
	ErrMemAlreadyInit = errors.New("rtxkernel: MemInit already called")
	ErrTooManyTasks   = errors.New("rtxkernel: no free task slot")
	ErrUnknownTask    = errors.New("rtxkernel: unknown task id")
	ErrNotCurrentTask = errors.New("rtxkernel: operation not valid on the calling task")
)
