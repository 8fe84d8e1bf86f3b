package platform

import (
	"sync/atomic"
	"time"
)

// SimHAL is a headless HAL backend driven by goroutines and channels
// instead of real interrupts. It is safe for concurrent use.
type SimHAL struct {
	pending              chan struct{}
	faulted              atomic.Bool
	reason               atomic.Value // string
	prioritiesConfigured atomic.Bool
}

// NewSimHAL creates a ready-to-use simulated HAL.
func NewSimHAL() *SimHAL {
	return &SimHAL{pending: make(chan struct{}, 1)}
}

// WaitForInterrupt implements HAL.
func (s *SimHAL) WaitForInterrupt() {
	<-s.pending
}

// RequestSwitch implements HAL. It never blocks: if a wake is already
// pending, a second request is a no-op, matching how a real pending-switch
// flag can only ever be set, never accumulated.
func (s *SimHAL) RequestSwitch() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

// ConfigurePriorities implements HAL. There's no real NVIC to program here,
// so it just records that the call happened; PrioritiesConfigured lets tests
// assert the kernel invokes it before scheduling starts.
func (s *SimHAL) ConfigurePriorities() {
	s.prioritiesConfigured.Store(true)
}

// PrioritiesConfigured reports whether ConfigurePriorities has been called.
func (s *SimHAL) PrioritiesConfigured() bool {
	return s.prioritiesConfigured.Load()
}

// Fault implements HAL by recording the reason and parking the calling
// goroutine forever, the same observable behavior as a Cortex-M core
// spinning in its HardFault handler.
func (s *SimHAL) Fault(reason string) {
	s.faulted.Store(true)
	s.reason.Store(reason)
	select {}
}

// Faulted reports whether Fault has been called, and with what reason, so a
// fault can be detected without observing the handler goroutine hang
// directly.
func (s *SimHAL) Faulted() (bool, string) {
	if !s.faulted.Load() {
		return false, ""
	}
	r, _ := s.reason.Load().(string)
	return true, r
}

// Driver runs fn on every tick of the given period until stop is closed. It
// is the headless stand-in for a real SysTick interrupt, used by
// cmd/rtxmonitor; kernel tests call their kernel's Tick method directly
// instead, for determinism.
func Driver(period time.Duration, stop <-chan struct{}, fn func()) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			fn()
		}
	}
}
