package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/strata/internal/bus"
	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/schema"
	"github.com/tidemark/strata/internal/store"
	"github.com/tidemark/strata/internal/txn"
)

func testValidator(t *testing.T) *schema.Validator {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register("Transform", schema.ComponentSchema{
		Fields: []schema.FieldSchema{
			{Name: "position", Type: schema.TypeVec3, Required: true},
		},
	}))
	require.NoError(t, reg.Register("Health", schema.ComponentSchema{
		Fields: []schema.FieldSchema{
			{Name: "hp", Type: schema.TypeInt, Required: true},
		},
	}))
	return schema.NewValidator(reg)
}

func testEngine(t *testing.T, opts ...EngineOption) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	e := New(bus.New(), testValidator(t), mem, opts...)
	return e, mem
}

func createOn(h *bus.Handle, id uint64, components map[string]ir.Object) ir.Patch {
	return ir.Patch{
		Source: h.ID(),
		Kind: ir.EntityPatch{
			Entity: ir.EntityRef{Namespace: h.ID(), LocalID: id},
			Op:     ir.EntityOp{Kind: ir.EntityCreate, Components: components},
		},
	}
}

func setOn(h *bus.Handle, owner ir.NamespaceID, id uint64, comp string, data ir.Object, priority int32) ir.Patch {
	return ir.Patch{
		Source:   h.ID(),
		Priority: priority,
		Kind: ir.ComponentPatch{
			Entity:    ir.EntityRef{Namespace: owner, LocalID: id},
			Component: comp,
			Op:        ir.ComponentOp{Kind: ir.ComponentSet, Data: data},
		},
	}
}

func statusCounts(report *txn.Report) map[txn.Status]int {
	counts := make(map[txn.Status]int)
	for _, o := range report.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// TestTick_FullPipeline tests submit -> tick -> applied state -> results
// delivered back to the producer.
func TestTick_FullPipeline(t *testing.T) {
	e, mem := testEngine(t)
	h := e.Bus().Register(bus.NamespacePermissions{}, bus.Unlimited)

	require.NoError(t, h.Submit(createOn(h, 1, map[string]ir.Object{
		"Transform": {"position": ir.Vec3{1, 2, 3}},
	})))
	require.NoError(t, h.Submit(setOn(h, h.ID(), 1, "Health", ir.Object{"hp": ir.Int(100)}, 0)))

	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, txn.StateCommitted, report.State)
	assert.Equal(t, 2, report.Applied())

	entities, err := mem.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.True(t, ir.Equal(entities[0].Components["Health"], ir.Object{"hp": ir.Int(100)}))

	results := h.Results()
	require.Len(t, results, 2)
	for _, o := range results {
		assert.Equal(t, txn.StatusApplied, o.Status)
	}
}

// TestTick_InvalidDropped tests a schema-invalid patch is dropped with a
// recorded error while the valid remainder commits.
func TestTick_InvalidDropped(t *testing.T) {
	e, mem := testEngine(t)
	h := e.Bus().Register(bus.NamespacePermissions{}, bus.Unlimited)

	require.NoError(t, h.Submit(createOn(h, 1, nil)))
	// hp is int-typed; a string must fail validation.
	require.NoError(t, h.Submit(setOn(h, h.ID(), 1, "Health", ir.Object{"hp": ir.String("full")}, 0)))

	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, txn.StateCommitted, report.State)

	counts := statusCounts(report)
	assert.Equal(t, 1, counts[txn.StatusApplied])
	assert.Equal(t, 1, counts[txn.StatusDroppedInvalid])

	for _, o := range report.Outcomes {
		if o.Status == txn.StatusDroppedInvalid {
			assert.True(t, schema.IsValidationError(o.Err))
		}
	}

	entities, err := mem.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Empty(t, entities[0].Components)
}

// TestTick_OutcomeConservation tests every drained patch is accounted
// for exactly once across all statuses.
func TestTick_OutcomeConservation(t *testing.T) {
	e, _ := testEngine(t)
	h := e.Bus().Register(bus.NamespacePermissions{}, bus.Unlimited)

	require.NoError(t, h.Submit(createOn(h, 1, nil)))
	// Two sets on the same component: the first collapses.
	require.NoError(t, h.Submit(setOn(h, h.ID(), 1, "Health", ir.Object{"hp": ir.Int(1)}, 0)))
	require.NoError(t, h.Submit(setOn(h, h.ID(), 1, "Health", ir.Object{"hp": ir.Int(2)}, 0)))
	// Invalid payload.
	require.NoError(t, h.Submit(setOn(h, h.ID(), 1, "Health", ir.Object{"hp": ir.Bool(true)}, 0)))

	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Outcomes, 4, "every submitted patch gets exactly one outcome")

	seen := make(map[uint64]bool)
	for _, o := range report.Outcomes {
		assert.False(t, seen[o.Patch.Timestamp])
		seen[o.Patch.Timestamp] = true
	}
}

// TestTick_ConflictResolution tests the higher-priority cross-namespace
// write wins and the loser's producer learns why.
func TestTick_ConflictResolution(t *testing.T) {
	e, mem := testEngine(t)
	owner := e.Bus().Register(bus.NamespacePermissions{}, bus.Unlimited)
	rival := e.Bus().Register(bus.NamespacePermissions{CrossWrite: true}, bus.Unlimited)

	require.NoError(t, owner.Submit(createOn(owner, 1, nil)))
	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	require.NoError(t, owner.Submit(setOn(owner, owner.ID(), 1, "Health", ir.Object{"hp": ir.Int(10)}, 1)))
	require.NoError(t, rival.Submit(setOn(rival, owner.ID(), 1, "Health", ir.Object{"hp": ir.Int(99)}, 5)))

	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, txn.StateCommitted, report.State)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, txn.ConflictWriteWrite, report.Conflicts[0].Kind)

	entities, err := mem.Entities(context.Background())
	require.NoError(t, err)
	assert.True(t, ir.Equal(entities[0].Components["Health"], ir.Object{"hp": ir.Int(99)}),
		"higher priority wins")

	results := owner.Results()
	require.Len(t, results, 1)
	assert.Equal(t, txn.StatusDroppedConflict, results[0].Status)
	require.NotNil(t, results[0].Conflict)
}

// TestTick_RejectOnConflict tests strict mode aborts the whole cycle on
// any conflict: zero effects reach the store.
func TestTick_RejectOnConflict(t *testing.T) {
	e, mem := testEngine(t, WithRejectOnConflict(true))
	owner := e.Bus().Register(bus.NamespacePermissions{}, bus.Unlimited)
	rival := e.Bus().Register(bus.NamespacePermissions{CrossWrite: true}, bus.Unlimited)

	require.NoError(t, owner.Submit(createOn(owner, 1, nil)))
	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	require.NoError(t, owner.Submit(setOn(owner, owner.ID(), 1, "Health", ir.Object{"hp": ir.Int(10)}, 1)))
	require.NoError(t, rival.Submit(setOn(rival, owner.ID(), 1, "Health", ir.Object{"hp": ir.Int(99)}, 5)))

	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, txn.StateAborted, report.State)
	assert.Equal(t, 0, report.Applied())

	entities, err := mem.Entities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities[0].Components, "aborted cycle leaves no effects")
}

// TestTick_ApplyFailureAborts tests a semantic apply failure aborts the
// transaction and reports every survivor as aborted.
func TestTick_ApplyFailureAborts(t *testing.T) {
	e, mem := testEngine(t)
	h := e.Bus().Register(bus.NamespacePermissions{}, bus.Unlimited)

	// Schema-valid, but the entity does not exist at apply time.
	require.NoError(t, h.Submit(setOn(h, h.ID(), 42, "Health", ir.Object{"hp": ir.Int(1)}, 0)))
	require.NoError(t, h.Submit(createOn(h, 1, nil)))

	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, txn.StateAborted, report.State)

	counts := statusCounts(report)
	assert.Equal(t, 2, counts[txn.StatusAborted])

	entities, err := mem.Entities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities, "create in the same transaction rolled back")
}

// TestTick_PriorityOrdersApply tests survivors apply highest priority
// first with stamps breaking ties.
func TestTick_PriorityOrdersApply(t *testing.T) {
	e, mem := testEngine(t)
	h := e.Bus().Register(bus.NamespacePermissions{}, bus.Unlimited)

	require.NoError(t, h.Submit(createOn(h, 1, nil)))
	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	// Same namespace, two different components: no conflict, no
	// collapse. The high-priority one applies first, but both land.
	require.NoError(t, h.Submit(setOn(h, h.ID(), 1, "Health", ir.Object{"hp": ir.Int(1)}, 0)))
	require.NoError(t, h.Submit(setOn(h, h.ID(), 1, "Transform", ir.Object{"position": ir.Vec3{1, 0, 0}}, 9)))

	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied())

	entities, err := mem.Entities(context.Background())
	require.NoError(t, err)
	assert.Len(t, entities[0].Components, 2)
}

// TestTick_EmptyCycle tests a drain with nothing pending still commits
// an empty transaction.
func TestTick_EmptyCycle(t *testing.T) {
	e, _ := testEngine(t)
	report, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, txn.StateCommitted, report.State)
	assert.Empty(t, report.Outcomes)
	assert.Same(t, report, e.LastReport())
}
