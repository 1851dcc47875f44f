package ledger

import (
	"fmt"
	"sync"
)

// Ledger owns the stage ring and the single global mutex protecting
// every stage's window metadata (§4.2: "Single global mutex. Rationale:
// every ledger operation mutates a few integers; fine-grained locking
// does not repay its complexity. Condition variables are per-stage to
// avoid thundering herds.").
type Ledger struct {
	mu     sync.Mutex
	nSlots int
	stages []*Stage
}

// New builds a ledger for a chain of the given stage kinds, in order
// (input, processors..., output). The input stage starts owning the
// entire ring; every other stage starts with an empty window (§4.8).
func New(nSlots int, kinds []Kind, names []string) (*Ledger, error) {
	if len(kinds) < 2 {
		return nil, fmt.Errorf("ledger: need at least an input and output stage, got %d", len(kinds))
	}
	if kinds[0] != Input || kinds[len(kinds)-1] != Output {
		return nil, fmt.Errorf("ledger: chain must start with input and end with output")
	}

	l := &Ledger{nSlots: nSlots}
	l.stages = make([]*Stage, len(kinds))
	for i, k := range kinds {
		s := &Stage{Index: i, Kind: k, Name: names[i]}
		s.toDo = sync.NewCond(&l.mu)
		if i == 0 {
			s.Count = nSlots
		}
		l.stages[i] = s
	}
	return l, nil
}

// Stage returns the stage at the given chain index.
func (l *Ledger) Stage(i int) *Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stages[i]
}

// StageCount returns K+2, the total number of stages.
func (l *Ledger) StageCount() int {
	return len(l.stages)
}

// NSlots returns N_slots.
func (l *Ledger) NSlots() int {
	return l.nSlots
}

// Snapshot returns a read-only copy of every stage's window state,
// useful for the Control Channel and diagnostics API without exposing
// the live *Stage pointers (and the mutex that guards them) outside
// the ledger.
func (l *Ledger) Snapshot() []StageSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]StageSnapshot, len(l.stages))
	for i, s := range l.stages {
		out[i] = StageSnapshot{
			Index:      s.Index,
			Name:       s.Name,
			Kind:       s.Kind,
			FirstIndex: s.FirstIndex,
			Count:      s.Count,
			InputEnd:   s.InputEnd,
			Aborted:    s.Aborted,
			JointDone:  s.JointDone,
		}
	}
	return out
}

// StageSnapshot is an immutable view of a stage's window state.
type StageSnapshot struct {
	Index      int
	Name       string
	Kind       Kind
	FirstIndex int
	Count      int
	InputEnd   bool
	Aborted    bool
	JointDone  bool
}

// RequestWindow returns up to max contiguous slots from the stage's
// window, never spanning the modular ring boundary in a single return
// (§4.2: "callers iterate"). length==0 with no terminal flag set
// means the caller must Wait and retry. "Write" windows (stage kind
// Input, claiming free slots) and "read" windows use the same
// mechanics — the distinction in §4.2 is purely about what the window
// represents, not how it's walked.
func (l *Ledger) RequestWindow(stageIdx, max int) (start, length int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requestWindowLocked(stageIdx, max)
}

func (l *Ledger) requestWindowLocked(stageIdx, max int) (start, length int) {
	s := l.stages[stageIdx]
	if s.Count == 0 {
		return s.FirstIndex, 0
	}
	n := s.Count
	if max > 0 && max < n {
		n = max
	}
	// Never let a single returned window straddle the physical end of
	// the backing array; the caller loops to pick up the remainder.
	untilWrap := l.nSlots - s.FirstIndex
	if n > untilWrap {
		n = untilWrap
	}
	return s.FirstIndex, n
}

// Wait blocks the calling goroutine on stage stageIdx's condition
// variable. The caller must be holding no other locks; Wait acquires
// the ledger mutex itself, exactly like sync.Cond.Wait's contract.
// This is the single wait point the core ever uses outside of plugin
// I/O (§5 "Suspension points").
func (l *Ledger) Wait(stageIdx int) {
	l.mu.Lock()
	l.stages[stageIdx].toDo.Wait()
	l.mu.Unlock()
}

// WaitForWindow returns up to max contiguous slots from stageIdx's
// window, blocking on the stage's condition variable while the window
// is empty and neither terminal flag is set. Unlike calling
// RequestWindow and then separately Wait, the check and the wait share
// one continuous lock acquisition: a Release or PropagateTermination
// from another goroutine can no longer land in the gap between an
// unlocked "is it empty" check and a later, separately-locked Wait and
// have its Signal missed (the lost-wakeup sync.Cond's contract exists
// to prevent). Callers loop on length==0 to distinguish "terminated
// and drained" (check HasPendingTermination) from a spurious wakeup.
func (l *Ledger) WaitForWindow(stageIdx, max int) (start, length int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stages[stageIdx]
	for s.Count == 0 && !s.InputEnd && !s.Aborted {
		s.toDo.Wait()
	}
	return l.requestWindowLocked(stageIdx, max)
}

// HasPendingTermination reports whether a stage should stop waiting
// and instead drain/exit because one of its terminal flags is set.
func (l *Ledger) HasPendingTermination(stageIdx int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stages[stageIdx]
	return s.InputEnd || s.Aborted
}

// PendingTerminationKind reports which terminal flag is currently set
// for stageIdx, if any. A draining stage uses this to decide which
// direction to keep propagating termination: an Aborted flag must keep
// moving upstream (TerminationAbort), not be reinterpreted as this
// stage's own natural end and sent onward as TerminationInputEnd.
func (l *Ledger) PendingTerminationKind(stageIdx int) (kind TerminationKind, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stages[stageIdx]
	switch {
	case s.Aborted:
		return TerminationAbort, true
	case s.InputEnd:
		return TerminationInputEnd, true
	default:
		return 0, false
	}
}

// MarkSelfAborted sets stageIdx's own Aborted flag directly, for a
// stage whose own plugin call failed. This is distinct from
// PropagateTermination(stageIdx, TerminationAbort), which marks the
// *previous* stage — the right call when a downstream stage's failure
// needs to stop the stage feeding it, but the wrong one when a stage
// is reporting its own fatal error (for stage 0 it would wrap around
// the ring and mark Output instead of Input).
func (l *Ledger) MarkSelfAborted(stageIdx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stages[stageIdx]
	s.Aborted = true
	s.toDo.Signal()
}

// Release advances stageIdx's FirstIndex by n, shrinks its Count by n,
// grows the next stage's Count by n, and signals the next stage if
// n>0 or flush is requested (§4.2 "release"). It is the only operation
// through which slot ownership transfers (§3 invariant 5).
func (l *Ledger) Release(stageIdx, n int, flush bool) {
	if n < 0 {
		panic("ledger: release with negative count")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stages[stageIdx]
	if n > s.Count {
		panic(fmt.Sprintf("ledger: stage %d released %d slots but only owns %d", stageIdx, n, s.Count))
	}

	s.FirstIndex = (s.FirstIndex + n) % l.nSlots
	s.Count -= n

	next := l.stages[s.nextIndex(len(l.stages))]
	next.Count += n

	if n > 0 || flush {
		next.toDo.Signal()
	}
}

// PropagateTermination sets InputEnd on the next stage (kind ==
// TerminationInputEnd) or Aborted on the previous stage (kind ==
// TerminationAbort), then signals the affected stage's condition
// variable (§4.2 "propagate_termination").
func (l *Ledger) PropagateTermination(stageIdx int, kind TerminationKind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stages[stageIdx]
	switch kind {
	case TerminationInputEnd:
		next := l.stages[s.nextIndex(len(l.stages))]
		next.InputEnd = true
		next.toDo.Signal()
	case TerminationAbort:
		prev := l.stages[s.prevIndex(len(l.stages))]
		prev.Aborted = true
		prev.toDo.Signal()
	}
}

// SetJointDone records that stageIdx's plugin declared itself jointly
// done (§4.6 item 3). It does not by itself wake anyone; joint
// termination is evaluated by the Termination Arbiter, not the ledger.
func (l *Ledger) SetJointDone(stageIdx int, done bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages[stageIdx].JointDone = done
}

// AllJointDone reports whether every stage index listed has its
// JointDone flag set. Used by the Termination Arbiter (internal/
// termination) to evaluate the AND-gate across opted-in stages without
// re-entering the ledger mutex (§4.6 item 3).
func (l *Ledger) AllJointDone(indices []int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, idx := range indices {
		if idx < 0 || idx >= len(l.stages) {
			continue
		}
		if !l.stages[idx].JointDone {
			return false
		}
	}
	return true
}

// TerminationKind selects which propagation direction to apply.
type TerminationKind int

const (
	// TerminationInputEnd propagates forward (§4.6 item 1/2).
	TerminationInputEnd TerminationKind = iota
	// TerminationAbort propagates upstream (§4.6 abort paragraph).
	TerminationAbort
)

// Signal wakes stageIdx's condition variable without mutating any
// window state — used by the Control Channel to unblock a suspended
// stage after an out-of-band state change (e.g. resume after suspend).
func (l *Ledger) Signal(stageIdx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages[stageIdx].toDo.Signal()
}

// WithLock runs fn with the ledger mutex held, for callers that need
// to read-modify-write multiple stage fields atomically without
// re-deriving ledger internals. fn must not call another Ledger method:
// the mutex is not reentrant.
func (l *Ledger) WithLock(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// PartitionInvariantHolds checks P1: the sum of every stage's Count
// equals N_slots. Exported for tests exercising §8's testable
// properties directly against a live ledger.
func (l *Ledger) PartitionInvariantHolds() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := 0
	for _, s := range l.stages {
		sum += s.Count
	}
	return sum == l.nSlots
}

// ContiguityInvariantHolds checks P2 for every consecutive stage pair.
func (l *Ledger) ContiguityInvariantHolds() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.stages {
		next := l.stages[s.nextIndex(len(l.stages))]
		if (s.FirstIndex+s.Count)%l.nSlots != next.FirstIndex {
			_ = i
			return false
		}
	}
	return true
}
