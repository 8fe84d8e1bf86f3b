// Package rtxkernel implements a preemptive, priority-driven real-time
// micro-kernel for a simulated 32-bit Cortex-M target: up to sixteen tasks
// scheduled earliest-deadline-first, a power-of-two buddy allocator with
// in-band block metadata, and tick-driven sleep/deadline accounting.
//
// Everything below internal/platform.HAL is simulated — context switches are
// goroutine handoffs, not PendSV trampolines, and the tick source is
// whatever caller drives Kernel.Tick, not a real SysTick interrupt. The
// kernel's observable behavior (scheduling order, ownership enforcement,
// fragmentation accounting, wake timing) matches what a real port would do.
package rtxkernel
