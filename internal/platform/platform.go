// platform.go - hardware abstraction layer.
//
// A real Cortex-M port implements HAL over SVC/PendSV/SysTick assembly
// trampolines, explicitly out of scope for this module. Every test, and the
// demo in cmd/rtxmonitor, runs against SimHAL instead — a real-backend vs.
// headless-backend split, just with one backend instead of several.
package platform

// HAL is the set of hardware services the kernel needs from its platform:
// a way for the idle task to block until there's scheduling work to do, and
// a way to report an unrecoverable fault.
type HAL interface {
	// WaitForInterrupt blocks the calling goroutine until RequestSwitch is
	// next called, the simulated equivalent of a WFI instruction blocking
	// until the next interrupt.
	WaitForInterrupt()

	// RequestSwitch wakes any goroutine currently blocked in
	// WaitForInterrupt. It never blocks itself.
	RequestSwitch()

	// ConfigurePriorities programs exception priorities before the kernel
	// starts scheduling, the simulated equivalent of setting NVIC priority
	// registers so the context-switch exception can never preempt itself.
	// Must be called, if at all, before the first task runs.
	ConfigurePriorities()

	// Fault reports an unrecoverable condition (stack overflow, corrupted
	// header, scheduler invariant violation) and never returns, the
	// simulated equivalent of a Cortex-M HardFault handler spinning forever.
	Fault(reason string)
}
