// Package ledger implements the Window Ledger (C2): per-stage
// (first_index, count) sliding-window state, stage-chain topology, one
// global mutex, and per-stage condition variables. See spec.md §4.2.
package ledger

import "sync"

// Kind identifies a stage's position in the chain (§3).
type Kind int

const (
	// Input is stage 0, the sole writer of fresh packet bytes.
	Input Kind = iota
	// Processor is any of stages 1..K.
	Processor
	// Output is stage K+1.
	Output
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Processor:
		return "processor"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Stage is one position in the stage ring (§3 "Stage"). All fields are
// mutated only under the owning Ledger's mutex; Cond is tied to that
// same mutex (sync.NewCond(&ledger.mu)).
type Stage struct {
	// Index is the stage's position in the ring, 0..K+1.
	Index int
	// Name is the plugin name bound to this stage, used in diagnostics.
	Name string
	Kind Kind

	// FirstIndex and Count describe the stage's window into the ring
	// (§3 "Window invariants").
	FirstIndex int
	Count      int

	// InputEnd: no more packets will follow in this stage's window
	// once drained (§3).
	InputEnd bool
	// Aborted: this stage encountered a fatal error and stopped
	// accepting packets (§3).
	Aborted bool

	// JointTerminationOptIn marks a processor stage that opted into
	// joint termination (§4.6 item 3).
	JointTerminationOptIn bool
	// JointDone records that this stage's plugin declared itself
	// jointly done; it keeps passing packets regardless (§4.6).
	JointDone bool

	// toDo is signaled whenever this stage's window might have grown,
	// or one of its terminal flags was set (§3 "to_do").
	toDo *sync.Cond
}

// nextIndex returns the index of the stage that follows this one in the
// ring, wrapping output back to input (§9 "Cyclic stage ring").
func (s *Stage) nextIndex(total int) int {
	return (s.Index + 1) % total
}

// prevIndex returns the index of the stage that precedes this one,
// wrapping input back to output.
func (s *Stage) prevIndex(total int) int {
	return (s.Index - 1 + total) % total
}
