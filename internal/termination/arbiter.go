// Package termination implements the Termination Arbiter (C6): joint
// (AND-gate) termination bookkeeping across opted-in stages, layered on
// top of the ledger's unilateral/natural termination primitives
// (spec.md §4.6). Natural EOS and unilateral END/ABORT propagation are
// handled directly by internal/ledger.PropagateTermination and the
// executor loops; this package only adds the "all J opted-in stages
// agree" rule that ledger alone has no notion of.
package termination

import "github.com/tsduckgo/tsp/internal/ledger"

// Arbiter tracks which stages opted into joint termination and fires
// pipeline-wide termination once every one of them has declared itself
// jointly done (§4.6 item 3: "AND across opted-in stages").
type Arbiter struct {
	ledger    *ledger.Ledger
	optedIn   []int
	ignore    bool
	triggered bool
}

// New builds an Arbiter over the given ledger. optedIn lists the stage
// indices whose plugins declared joint_termination at construction
// (§6.2). ignoreJointTermination mirrors the global
// ignore_joint_termination option (§6.1): when set, opted-in stages
// keep passing packets indefinitely and joint termination never fires.
func New(l *ledger.Ledger, optedIn []int, ignoreJointTermination bool) *Arbiter {
	return &Arbiter{ledger: l, optedIn: append([]int(nil), optedIn...), ignore: ignoreJointTermination}
}

// Declare records that stage idx's plugin has declared itself jointly
// done (or reverses that declaration), then checks whether every
// opted-in stage now agrees. If so, and this is the first time, it
// triggers pipeline termination by marking the first processor stage's
// input as ended — mirroring what natural EOS would do at that point,
// letting the existing downstream drain/propagate machinery finish the
// pipeline (§4.6 item 3: "triggers pipeline termination").
func (a *Arbiter) Declare(idx int, done bool) {
	a.ledger.SetJointDone(idx, done)
	if a.ignore || a.triggered || len(a.optedIn) == 0 {
		return
	}
	if a.ledger.AllJointDone(a.optedIn) {
		a.triggered = true
		a.ledger.PropagateTermination(0, ledger.TerminationInputEnd)
	}
}

// Triggered reports whether joint termination has already fired.
func (a *Arbiter) Triggered() bool {
	return a.triggered
}
