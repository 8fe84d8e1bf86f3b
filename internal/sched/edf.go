// edf.go - earliest-deadline-first task selection.
//
// Pick is a pure function: given a snapshot of every task slot, it returns
// the TID that should run next. It has no package-level state and performs
// no mutation, so it can be called freely from tests without any kernel
// scaffolding.
package sched

import "github.com/cantone-labs/rtxkernel/internal/task"

// Candidate is the minimal view of a task slot Pick needs to make its
// decision.
type Candidate struct {
	TID           uint32
	State         task.State
	RemainingTime uint32
}

// Pick scans candidates (which must include the idle task at TID 0) and
// returns the TID of the READY task with the smallest RemainingTime,
// breaking ties by the lowest TID. If no non-idle task is READY, it returns
// task.IdleTID.
func Pick(candidates []Candidate) uint32 {
	best := uint32(task.IdleTID)
	bestRemaining := uint32(0)
	haveCandidate := false

	for _, c := range candidates {
		if c.TID == task.IdleTID {
			continue
		}
		if c.State != task.Ready {
			continue
		}
		if !haveCandidate || c.RemainingTime < bestRemaining ||
			(c.RemainingTime == bestRemaining && c.TID < best) {
			best = c.TID
			bestRemaining = c.RemainingTime
			haveCandidate = true
		}
	}

	if !haveCandidate {
		return task.IdleTID
	}
	return best
}
