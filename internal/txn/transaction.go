// Package txn implements the transaction stage of the patch pipeline:
// batch optimization, conflict detection and resolution, and the atomic
// transaction handed to the backing store.
package txn

import (
	"fmt"

	"github.com/tidemark/strata/internal/ir"
)

// State is a transaction lifecycle state.
type State string

const (
	// StateBuilding accumulates the drained batch; no validation has run.
	StateBuilding State = "building"
	// StateValidating runs schema validation then conflict detection, in
	// that order - an invalid patch must never win a conflict.
	StateValidating State = "validating"
	// StateCommitted is terminal: all surviving patches were applied.
	StateCommitted State = "committed"
	// StateAborted is terminal: zero effects reached the store.
	StateAborted State = "aborted"
)

// Transaction is an ordered, validated, conflict-free batch applied
// atomically. Terminal states are immutable; a transaction is consumed
// exactly once by the apply step.
type Transaction struct {
	ID      ir.TransactionID
	State   State
	Patches []ir.Patch

	// Conflicts and Errors record why patches were dropped (or, on abort,
	// why the transaction failed). Populated during validation.
	Conflicts []Conflict
	Errors    []error
}

// Builder accumulates a patch batch into a Building transaction.
type Builder struct {
	patches []ir.Patch
	built   bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends one patch in arrival order.
func (b *Builder) Add(p ir.Patch) *Builder {
	b.patches = append(b.patches, p)
	return b
}

// AddBatch appends a drained batch in order.
func (b *Builder) AddBatch(patches []ir.Patch) *Builder {
	b.patches = append(b.patches, patches...)
	return b
}

// Build consumes the builder and returns a Building transaction with a
// fresh identity. A builder builds exactly once.
func (b *Builder) Build() (*Transaction, error) {
	if b.built {
		return nil, fmt.Errorf("transaction builder already consumed")
	}
	b.built = true
	return &Transaction{
		ID:      ir.NewTransactionID(),
		State:   StateBuilding,
		Patches: b.patches,
	}, nil
}

// BeginValidation transitions Building -> Validating.
func (t *Transaction) BeginValidation() error {
	if t.State != StateBuilding {
		return fmt.Errorf("transaction %s: cannot validate from state %q", t.ID, t.State)
	}
	t.State = StateValidating
	return nil
}

// Commit transitions Validating -> Committed with the final surviving
// patch order. Terminal: any further transition is an error.
func (t *Transaction) Commit(patches []ir.Patch) error {
	if t.State != StateValidating {
		return fmt.Errorf("transaction %s: cannot commit from state %q", t.ID, t.State)
	}
	t.State = StateCommitted
	t.Patches = patches
	return nil
}

// Abort transitions Building or Validating -> Aborted, recording the
// causes. Terminal.
func (t *Transaction) Abort(errs []error, conflicts []Conflict) error {
	if t.State == StateCommitted || t.State == StateAborted {
		return fmt.Errorf("transaction %s: cannot abort from terminal state %q", t.ID, t.State)
	}
	t.State = StateAborted
	t.Errors = errs
	t.Conflicts = conflicts
	return nil
}

// Terminal reports whether the transaction reached a terminal state.
func (t *Transaction) Terminal() bool {
	return t.State == StateCommitted || t.State == StateAborted
}
