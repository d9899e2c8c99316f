// Package engine runs the apply cycle: drain the bus, optimize the
// batch, validate against component schemas, resolve conflicts, and
// apply the surviving transaction atomically to the store.
//
// One engine per world. Tick is the only writer of world state; producer
// goroutines interact with the world exclusively through bus handles.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/tidemark/strata/internal/bus"
	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/schema"
	"github.com/tidemark/strata/internal/store"
	"github.com/tidemark/strata/internal/txn"
)

// Engine owns the single-consumer side of a world.
type Engine struct {
	bus       *bus.PatchBus
	validator *schema.Validator
	store     store.Applier

	// rejectOnConflict aborts the whole transaction when any conflict is
	// detected instead of resolving winners.
	rejectOnConflict bool

	// mu is the cycle gate. Ticks serialize on it, and Pause lets
	// snapshot capture hold the world still between cycles.
	mu         sync.Mutex
	lastReport *txn.Report
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithRejectOnConflict makes any detected conflict abort the whole
// transaction rather than dropping the losers. Strict mode for worlds
// where a conflict indicates a producer bug.
func WithRejectOnConflict(on bool) EngineOption {
	return func(e *Engine) {
		e.rejectOnConflict = on
	}
}

// New creates an engine over a bus, a validator, and a store backend.
func New(b *bus.PatchBus, v *schema.Validator, s store.Applier, opts ...EngineOption) *Engine {
	e := &Engine{bus: b, validator: v, store: s}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bus returns the engine's patch bus.
func (e *Engine) Bus() *bus.PatchBus {
	return e.bus
}

// Tick runs one apply cycle and returns its report.
//
// Pipeline: drain -> optimize -> validate -> detect conflicts -> order ->
// apply atomically -> deliver outcomes. The report accounts for every
// drained patch exactly once.
func (e *Engine) Tick(ctx context.Context) (*txn.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) (*txn.Report, error) {
	batch := e.bus.Drain()

	tx, err := txn.NewBuilder().AddBatch(batch.Patches).Build()
	if err != nil {
		return nil, err
	}

	slog.Debug("cycle drained",
		"cycle", batch.Cycle,
		"transaction", tx.ID,
		"patches", len(batch.Patches),
	)

	var outcomes []txn.Outcome

	optimized := txn.Optimize(tx.Patches)
	outcomes = append(outcomes, optimized.Dropped...)

	if err := tx.BeginValidation(); err != nil {
		return nil, err
	}

	valid := optimized.Patches[:0]
	for _, p := range optimized.Patches {
		if verr := e.validator.ValidatePatch(p); verr != nil {
			outcomes = append(outcomes, txn.Outcome{
				Patch:  p,
				Status: txn.StatusDroppedInvalid,
				Err:    verr,
			})
			continue
		}
		valid = append(valid, p)
	}

	resolution := txn.DetectConflicts(valid, e.bus.CrossWriteAllowed)
	outcomes = append(outcomes, resolution.Dropped...)

	if e.rejectOnConflict && len(resolution.Conflicts) > 0 {
		return e.abort(tx, batch.Cycle, optimized.Stats, resolution, outcomes)
	}

	ordered := orderForApply(resolution.Patches)

	report, err := e.store.Apply(ctx, tx.ID, ordered)
	if err != nil {
		slog.Warn("apply failed, transaction aborted",
			"cycle", batch.Cycle,
			"transaction", tx.ID,
			"error", err,
		)
		if aerr := tx.Abort([]error{err}, resolution.Conflicts); aerr != nil {
			return nil, aerr
		}
		for _, p := range ordered {
			outcomes = append(outcomes, txn.Outcome{Patch: p, Status: txn.StatusAborted, Err: err})
		}
		return e.finish(tx, batch.Cycle, optimized.Stats, resolution.Conflicts, outcomes), nil
	}

	if err := tx.Commit(ordered); err != nil {
		return nil, err
	}
	for _, p := range ordered {
		outcomes = append(outcomes, txn.Outcome{Patch: p, Status: txn.StatusApplied})
	}

	slog.Info("cycle committed",
		"cycle", batch.Cycle,
		"transaction", tx.ID,
		"applied", report.Applied,
		"collapsed", optimized.Stats.Collapsed,
		"merged", optimized.Stats.Merged,
		"conflicts", len(resolution.Conflicts),
	)

	return e.finish(tx, batch.Cycle, optimized.Stats, resolution.Conflicts, outcomes), nil
}

// abort rejects the whole cycle: zero effects, every surviving patch
// reported as aborted alongside the already dropped ones.
func (e *Engine) abort(tx *txn.Transaction, cycle uint64, stats txn.BatchStats,
	resolution txn.Resolution, outcomes []txn.Outcome) (*txn.Report, error) {

	var errs []error
	for i := range outcomes {
		if outcomes[i].Err != nil {
			errs = append(errs, outcomes[i].Err)
		}
	}
	if err := tx.Abort(errs, resolution.Conflicts); err != nil {
		return nil, err
	}
	for _, p := range resolution.Patches {
		outcomes = append(outcomes, txn.Outcome{Patch: p, Status: txn.StatusAborted})
	}

	slog.Warn("cycle aborted on conflict",
		"cycle", cycle,
		"transaction", tx.ID,
		"conflicts", len(resolution.Conflicts),
	)

	return e.finish(tx, cycle, stats, resolution.Conflicts, outcomes), nil
}

func (e *Engine) finish(tx *txn.Transaction, cycle uint64, stats txn.BatchStats,
	conflicts []txn.Conflict, outcomes []txn.Outcome) *txn.Report {

	// Deliver in admission order so producers see their own patches in
	// submission order.
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Patch.Timestamp < outcomes[j].Patch.Timestamp
	})

	report := &txn.Report{
		Transaction: tx.ID,
		Cycle:       cycle,
		State:       tx.State,
		Stats:       stats,
		Conflicts:   conflicts,
		Outcomes:    outcomes,
	}
	e.bus.Deliver(outcomes)
	e.lastReport = report
	return report
}

// LastReport returns the most recent cycle report, or nil before the
// first tick.
func (e *Engine) LastReport() *txn.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// Pause runs fn while holding the cycle gate, so no tick can interleave
// with it. Snapshot capture and restore run under Pause.
func (e *Engine) Pause(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// TickLocked runs one apply cycle while the caller already holds the
// cycle gate via Pause. Restore uses it to flush its own patches without
// releasing the world to other producers mid-restore.
func (e *Engine) TickLocked(ctx context.Context) (*txn.Report, error) {
	return e.tick(ctx)
}

// orderForApply sorts the surviving patches into deterministic apply
// order: priority descending, then admission stamp ascending. Stamps are
// unique, so the order is total.
func orderForApply(patches []ir.Patch) []ir.Patch {
	out := make([]ir.Patch, len(patches))
	copy(out, patches)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
