package txn

import "github.com/tidemark/strata/internal/ir"

// Status is the fate of one submitted patch after a cycle completes.
type Status string

const (
	// StatusApplied means the patch reached the backing store.
	StatusApplied Status = "applied"
	// StatusCollapsed means the optimizer removed the patch as redundant
	// (superseded set, merged update, or create/destroy cancellation).
	StatusCollapsed Status = "collapsed"
	// StatusDroppedInvalid means schema validation rejected the patch.
	StatusDroppedInvalid Status = "dropped_invalid"
	// StatusDroppedConflict means the patch lost conflict resolution.
	StatusDroppedConflict Status = "dropped_conflict"
	// StatusDroppedDependent means the patch targeted an entity that did
	// not survive the cycle, so it was meaningless.
	StatusDroppedDependent Status = "dropped_dependent"
	// StatusAborted means the whole transaction aborted before apply.
	StatusAborted Status = "aborted"
)

// Outcome records the fate of one patch. No patch is ever dropped
// without a recorded reason.
type Outcome struct {
	Patch    ir.Patch
	Status   Status
	Err      error     // Set for dropped_invalid and aborted-by-error
	Conflict *Conflict // Set for dropped_conflict
}

// BatchStats summarizes one optimizer run.
type BatchStats struct {
	In        int // Patches entering the optimizer
	Out       int // Patches surviving it
	Collapsed int // Set-supersede and create/destroy cancellations
	Merged    int // Update patches folded into a survivor
}

// Report is the full result of one apply cycle, delivered back to every
// submitting namespace.
type Report struct {
	Transaction ir.TransactionID
	Cycle       uint64
	State       State
	Stats       BatchStats
	Conflicts   []Conflict
	Outcomes    []Outcome
}

// Applied returns the number of patches that reached the store.
func (r *Report) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusApplied {
			n++
		}
	}
	return n
}
